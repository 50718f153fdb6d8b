package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
)

func TestMatch(t *testing.T) {
	route, rest, ok := Match("/api/order-service/orders/42")
	assert.True(t, ok)
	assert.Equal(t, discovery.OrderService, route.Service)
	assert.Equal(t, "/orders/42", rest)

	route, rest, ok = Match("/api/user-service")
	assert.True(t, ok)
	assert.Equal(t, discovery.UserService, route.Service)
	assert.Equal(t, "/", rest)

	_, _, ok = Match("/api/unknown-service/things")
	assert.False(t, ok)

	// Prefixes match whole path segments only.
	_, _, ok = Match("/api/order-servicex/orders")
	assert.False(t, ok)
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic("/api/user-service/auth/login"))
	assert.True(t, IsPublic("/actuator/circuitbreakers"))
	assert.True(t, IsPublic("/swagger-ui/index.html"))
	assert.True(t, IsPublic("/v3/api-docs"))
	assert.True(t, IsPublic("/health"))
	assert.True(t, IsPublic("/fallback/order-service"))

	assert.False(t, IsPublic("/api/order-service/orders"))
	assert.False(t, IsPublic("/api/user-service/users/1"))
}

func TestHasTraversal(t *testing.T) {
	assert.True(t, HasTraversal("/api/order-service/../user-service/users"))
	assert.True(t, HasTraversal("/api/order-service/..\\admin"))
	assert.True(t, HasTraversal("/api/order-service/.."))

	assert.False(t, HasTraversal("/api/order-service/orders/42"))
	assert.False(t, HasTraversal("/api/order-service/orders..csv"))
}
