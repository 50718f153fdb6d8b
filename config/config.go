package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway composition-root configuration. The YAML file is
// optional; environment variables override whatever the file sets.
type Config struct {
	ListenAddr string            `yaml:"listenAddr"`
	Services   map[string]Target `yaml:"services"`
	JWT        JWT               `yaml:"jwt"`
	RateLimit  RateLimit         `yaml:"rateLimit"`
	Redis      Redis             `yaml:"redis"`
	Client     Client            `yaml:"client"`
}

// Target lists the addresses of one logical downstream service.
type Target struct {
	Addresses []string `yaml:"addresses"`
}

type JWT struct {
	// Algorithm is HS256 (Secret) or RS256 (PublicKeyFile).
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

type RateLimit struct {
	Enabled bool `yaml:"enabled"`
	// RequestsPerMinute per principal+route bucket.
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	Burst             int `yaml:"burst"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Client struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
	MaxRetries     int `yaml:"maxRetries"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Env-only configuration is fine.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr: ":8080",
		Services: map[string]Target{
			"user-service":            {Addresses: []string{"http://localhost:8081"}},
			"product-catalog-service": {Addresses: []string{"http://localhost:8082"}},
			"shopping-cart-service":   {Addresses: []string{"http://localhost:8083"}},
			"order-service":           {Addresses: []string{"http://localhost:8084"}},
			"payment-service":         {Addresses: []string{"http://localhost:8085"}},
			"notification-service":    {Addresses: []string{"http://localhost:8086"}},
		},
		JWT: JWT{
			Algorithm: "HS256",
			Secret:    "your-secret-key-change-in-production",
		},
		RateLimit: RateLimit{
			Enabled:           false,
			RequestsPerMinute: 300,
			Burst:             50,
		},
		Redis: Redis{Addr: "localhost:6379"},
		Client: Client{
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
	}
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("GATEWAY_ADDR", c.ListenAddr)
	c.JWT.Algorithm = getEnv("JWT_ALGORITHM", c.JWT.Algorithm)
	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.JWT.PublicKeyFile = getEnv("JWT_PUBLIC_KEY_FILE", c.JWT.PublicKeyFile)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerMinute = getEnvInt("RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.Client.TimeoutSeconds = getEnvInt("CLIENT_TIMEOUT_SECONDS", c.Client.TimeoutSeconds)
	c.Client.MaxRetries = getEnvInt("CLIENT_MAX_RETRIES", c.Client.MaxRetries)

	for name := range c.Services {
		if addr := os.Getenv(serviceEnvKey(name)); addr != "" {
			c.Services[name] = Target{Addresses: []string{addr}}
		}
	}
}

// ClientTimeout returns the per-call deadline as a duration.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}

// ServiceTable flattens the targets for the discovery resolver.
func (c *Config) ServiceTable() map[string][]string {
	out := make(map[string][]string, len(c.Services))
	for name, t := range c.Services {
		out[name] = t.Addresses
	}
	return out
}

// serviceEnvKey turns "user-service" into "USER_SERVICE_URL".
func serviceEnvKey(name string) string {
	key := make([]byte, 0, len(name)+4)
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '-':
			key = append(key, '_')
		case ch >= 'a' && ch <= 'z':
			key = append(key, ch-'a'+'A')
		default:
			key = append(key, ch)
		}
	}
	return string(key) + "_URL"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
