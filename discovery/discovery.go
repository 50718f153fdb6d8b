package discovery

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Logical downstream service names.
const (
	UserService         = "user-service"
	ProductService      = "product-catalog-service"
	CartService         = "shopping-cart-service"
	OrderService        = "order-service"
	PaymentService      = "payment-service"
	NotificationService = "notification-service"
)

// Resolver maps a logical service name to one of its base URLs.
type Resolver interface {
	Resolve(service string) (string, error)
	// MarkDown temporarily removes an address from rotation.
	MarkDown(service, baseURL string)
	// MarkUp restores an address.
	MarkUp(service, baseURL string)
}

type entry struct {
	addrs []string
	down  map[string]bool
	next  uint64
}

// Static is a round-robin resolver over a fixed address table with health
// filtering. Addresses come from configuration at composition time.
type Static struct {
	mu       sync.RWMutex
	services map[string]*entry
}

func NewStatic(table map[string][]string) *Static {
	s := &Static{services: make(map[string]*entry, len(table))}
	for name, addrs := range table {
		cleaned := make([]string, 0, len(addrs))
		for _, a := range addrs {
			cleaned = append(cleaned, strings.TrimRight(a, "/"))
		}
		s.services[name] = &entry{addrs: cleaned, down: make(map[string]bool)}
	}
	return s
}

// Resolve returns the next healthy base URL for service, round-robin. When
// every address is marked down the full rotation is used anyway so a
// recovering service gets traffic again.
func (s *Static) Resolve(service string) (string, error) {
	s.mu.RLock()
	e, ok := s.services[service]
	s.mu.RUnlock()
	if !ok || len(e.addrs) == 0 {
		return "", fmt.Errorf("no addresses registered for service %q", service)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(e.addrs)
	start := int(atomic.AddUint64(&e.next, 1)-1) % n
	for i := 0; i < n; i++ {
		addr := e.addrs[(start+i)%n]
		if !e.down[addr] {
			return addr, nil
		}
	}
	return e.addrs[start], nil
}

func (s *Static) MarkDown(service, baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.services[service]; ok {
		e.down[strings.TrimRight(baseURL, "/")] = true
	}
}

func (s *Static) MarkUp(service, baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.services[service]; ok {
		delete(e.down, strings.TrimRight(baseURL, "/"))
	}
}
