package circuitbreaker

import (
	"sync"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
)

// Canonical breaker names, one per downstream service.
const (
	UserServiceBreaker         = "userServiceCircuitBreaker"
	ProductServiceBreaker      = "productServiceCircuitBreaker"
	CartServiceBreaker         = "cartServiceCircuitBreaker"
	OrderServiceBreaker        = "orderServiceCircuitBreaker"
	PaymentServiceBreaker      = "paymentServiceCircuitBreaker"
	NotificationServiceBreaker = "notificationServiceCircuitBreaker"
)

// Registry owns the process-wide breakers, keyed by name. Breakers are
// created on first reference and live for the process lifetime.
type Registry struct {
	settings Settings
	clk      clock.Clock

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry(settings Settings, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{
		settings: settings,
		clk:      clk,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the named breaker, creating it with the registry defaults on
// first reference.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cb = New(name, r.settings, r.clk)
	r.breakers[name] = cb
	return cb
}

// Snapshot returns the current state of every registered breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
