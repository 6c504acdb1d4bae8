package config

import "time"

// CacheConfig drives the Redis response cache in front of the public
// catalog reads.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool // cacheable HTTP methods
	TTL          time.Duration
	KeyStrategy  string // underscore-joined parts from method, route, query
	Prefix       string
	MaxBodyBytes int // larger responses are served but not stored
}

// LoadCacheConfig reads CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      envSet("CACHE_METHODS", "GET"),
		TTL:          envDur("CACHE_TTL", time.Minute),
		KeyStrategy:  getenv("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       getenv("CACHE_PREFIX", "dossier:cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}
