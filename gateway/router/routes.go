package router

import (
	"strings"

	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
)

// Route binds a path prefix to a backend service and its breaker. The
// rewrite strips the prefix; the remaining path is forwarded as-is.
type Route struct {
	Prefix  string
	Service string
	Breaker string
}

// Table is the fixed gateway routing table. Exactly one route matches any
// given request path.
var Table = []Route{
	{Prefix: "/api/user-service", Service: discovery.UserService, Breaker: circuitbreaker.UserServiceBreaker},
	{Prefix: "/api/product-catalog-service", Service: discovery.ProductService, Breaker: circuitbreaker.ProductServiceBreaker},
	{Prefix: "/api/shopping-cart-service", Service: discovery.CartService, Breaker: circuitbreaker.CartServiceBreaker},
	{Prefix: "/api/order-service", Service: discovery.OrderService, Breaker: circuitbreaker.OrderServiceBreaker},
	{Prefix: "/api/payment-service", Service: discovery.PaymentService, Breaker: circuitbreaker.PaymentServiceBreaker},
	{Prefix: "/api/notification-service", Service: discovery.NotificationService, Breaker: circuitbreaker.NotificationServiceBreaker},
}

// Match returns the route for path and the rewritten downstream path.
func Match(path string) (Route, string, bool) {
	for _, r := range Table {
		if path == r.Prefix {
			return r, "/", true
		}
		if strings.HasPrefix(path, r.Prefix+"/") {
			rest := strings.TrimPrefix(path, r.Prefix)
			return r, rest, true
		}
	}
	return Route{}, "", false
}

// publicPrefixes bypass bearer-token verification.
var publicPrefixes = []string{
	"/api/user-service/auth/",
	"/actuator/",
	"/swagger-ui/",
	"/v3/api-docs",
	"/fallback/",
	"/health",
	"/metrics",
}

// IsPublic reports whether the path is reachable without a bearer token.
func IsPublic(path string) bool {
	for _, p := range publicPrefixes {
		if path == strings.TrimSuffix(p, "/") || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// HasTraversal rejects path traversal sequences before any rewrite.
func HasTraversal(rawPath string) bool {
	return strings.Contains(rawPath, "../") || strings.Contains(rawPath, "..\\") ||
		rawPath == ".." || strings.HasSuffix(rawPath, "/..")
}
