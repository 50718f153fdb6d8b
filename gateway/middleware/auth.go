package middleware

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/config"
	"github.com/hmonster013/ecommerce-microservice-sub008/gateway/router"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

const blacklistKeyPrefix = "jwt:blacklist:"

// Auth verifies bearer tokens at the gateway edge and lifts the principal
// into the request context. Downstream services trust the X-User-* headers
// the call pipeline injects from that principal.
type Auth struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
	redis     *redis.Client
	logger    *zap.Logger
}

func NewAuth(cfg config.JWT, rdb *redis.Client, logger *zap.Logger) (*Auth, error) {
	a := &Auth{
		algorithm: strings.ToUpper(cfg.Algorithm),
		redis:     rdb,
		logger:    logger,
	}

	switch a.algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("jwt: HS256 requires a secret")
		}
		a.secret = []byte(cfg.Secret)
	case "RS256":
		raw, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("jwt: read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("jwt: parse public key: %w", err)
		}
		a.publicKey = key
	default:
		return nil, fmt.Errorf("jwt: unsupported algorithm %q", cfg.Algorithm)
	}
	return a, nil
}

// Middleware rejects protected requests without a valid bearer token.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Inbound identity headers are never trusted from the outside.
		stripIdentityHeaders(c.Request.Header)

		if router.IsPublic(c.Request.URL.Path) {
			c.Next()
			return
		}

		raw, ok := bearerToken(c.Request)
		if !ok {
			a.reject(c, "Missing or invalid Authorization header")
			return
		}

		token, err := jwt.Parse(raw, a.keyFunc,
			jwt.WithValidMethods([]string{a.algorithm}))
		if err != nil || !token.Valid {
			a.reject(c, "Invalid or expired token")
			return
		}

		if a.isBlacklisted(c, raw) {
			a.reject(c, "Token has been revoked")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			a.reject(c, "Invalid token claims")
			return
		}
		principal, ok := principalFromClaims(claims)
		if !ok {
			a.reject(c, "Token is missing required claims")
			return
		}

		c.Request = c.Request.WithContext(
			identity.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func (a *Auth) keyFunc(token *jwt.Token) (any, error) {
	switch a.algorithm {
	case "HS256":
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	default:
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.publicKey, nil
	}
}

// isBlacklisted checks the shared revocation list. Redis trouble fails open
// with a warning so an outage does not lock every user out.
func (a *Auth) isBlacklisted(c *gin.Context, raw string) bool {
	if a.redis == nil {
		return false
	}
	n, err := a.redis.Exists(c.Request.Context(), blacklistKeyPrefix+raw).Result()
	if err != nil {
		a.logger.Warn("Token blacklist check failed", zap.Error(err))
		return false
	}
	return n > 0
}

func (a *Auth) reject(c *gin.Context, message string) {
	response.FailWith(c, http.StatusUnauthorized, response.CodeUnauthorized, message, nil)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func stripIdentityHeaders(h http.Header) {
	for key := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(key), "X-User-") {
			h.Del(key)
		}
	}
}

// principalFromClaims maps the token claims onto the shared principal.
// user_id and username are mandatory; the rest is best effort.
func principalFromClaims(claims jwt.MapClaims) (identity.Principal, bool) {
	id := claimInt64(claims, "user_id", "userId", "uid")
	username := claimString(claims, "username", "sub")
	if id <= 0 || username == "" {
		return identity.Principal{}, false
	}

	p := identity.Principal{
		UserID:    id,
		Username:  username,
		Email:     claimString(claims, "email"),
		FirstName: claimString(claims, "first_name", "firstName"),
		LastName:  claimString(claims, "last_name", "lastName"),
	}
	for _, role := range claimStrings(claims, "roles", "authorities") {
		p.Roles = append(p.Roles, strings.ToUpper(role))
	}
	return p, true
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func claimInt64(claims jwt.MapClaims, keys ...string) int64 {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func claimStrings(claims jwt.MapClaims, keys ...string) []string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if v == "" {
				continue
			}
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
