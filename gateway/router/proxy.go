package router

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

// Proxy dispatches gateway requests to downstream services over the shared
// call pipeline, one breaker-backed client per route.
type Proxy struct {
	clients map[string]*clients.Client
	logger  *zap.Logger
}

func NewProxy(
	registry *circuitbreaker.Registry,
	resolver discovery.Resolver,
	opts clients.Options,
	logger *zap.Logger,
) *Proxy {
	p := &Proxy{
		clients: make(map[string]*clients.Client, len(Table)),
		logger:  logger,
	}
	for _, route := range Table {
		p.clients[route.Service] = clients.NewClient(
			route.Service, registry.Get(route.Breaker), resolver, opts, logger)
	}
	return p
}

// Register mounts the proxy catch-all and the fallback endpoints.
func (p *Proxy) Register(r *gin.Engine) {
	r.Any("/api/*path", p.Handle)
	r.Any("/fallback/:service", p.Fallback)
	r.NoRoute(func(c *gin.Context) {
		response.FailWith(c, http.StatusNotFound, response.CodeRouteNotFound,
			fmt.Sprintf("No route matched %s", c.Request.URL.Path), nil)
	})
}

// Handle matches the route table, rewrites the path and relays the request.
func (p *Proxy) Handle(c *gin.Context) {
	if HasTraversal(c.Request.URL.Path) || HasTraversal(c.Request.RequestURI) {
		response.FailWith(c, http.StatusBadRequest, response.CodeInvalidRequest,
			"Request path contains an illegal sequence", nil)
		return
	}

	route, rest, ok := Match(c.Request.URL.Path)
	if !ok {
		response.FailWith(c, http.StatusNotFound, response.CodeRouteNotFound,
			fmt.Sprintf("No route matched %s", c.Request.URL.Path), nil)
		return
	}
	if raw := c.Request.URL.RawQuery; raw != "" {
		rest += "?" + raw
	}

	var body bytes.Buffer
	if c.Request.Body != nil {
		if _, err := body.ReadFrom(http.MaxBytesReader(c.Writer, c.Request.Body, 16<<20)); err != nil {
			response.FailWith(c, http.StatusBadRequest, response.CodeInvalidRequest,
				"Failed to read request body", nil)
			return
		}
	}

	res, err := p.clients[route.Service].Forward(
		c.Request.Context(), c.Request.Method, rest, c.Request.Header, &body)
	if err != nil {
		p.logger.Warn("Proxy dispatch failed",
			zap.String("service", route.Service),
			zap.String("path", rest),
			zap.Error(err),
		)
		p.writeUnavailable(c, route.Service, err)
		return
	}

	copyResponseHeaders(c.Writer.Header(), res.Header)
	c.Data(res.StatusCode, res.Header.Get("Content-Type"), res.Body)
}

// Fallback answers for a downstream service that cannot take traffic.
func (p *Proxy) Fallback(c *gin.Context) {
	service := c.Param("service")
	response.FailWith(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable,
		fmt.Sprintf("%s is currently unavailable. Please try again later.", service), nil)
}

func (p *Proxy) writeUnavailable(c *gin.Context, service string, err error) {
	switch errs.KindOf(err) {
	case errs.KindTimeout:
		response.FailWith(c, http.StatusGatewayTimeout, response.CodeGatewayTimeout,
			fmt.Sprintf("%s did not respond in time", service), nil)
	case errs.KindCancelled:
		// Client went away; nothing useful to write.
		c.AbortWithStatus(http.StatusServiceUnavailable)
	default:
		response.FailWith(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable,
			fmt.Sprintf("%s is currently unavailable. Please try again later.", service), nil)
	}
}

// Hop-by-hop headers stay with each hop.
var skipResponseHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if skipResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
