package config

import (
	"testing"
	"time"
)

func TestLoadStorageConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DIR", "")
	t.Setenv("FILE_URL_SECRET", "")
	t.Setenv("FILE_URL_TTL", "")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")

	cfg := LoadStorageConfig("jwt-secret")
	if cfg.Dir != "data/blobs" {
		t.Fatalf("unexpected dir %q", cfg.Dir)
	}
	if cfg.URLSecret != "jwt-secret" {
		t.Fatalf("expected fallback secret, got %q", cfg.URLSecret)
	}
	if cfg.URLTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.URLTTL)
	}
	if cfg.PublicBase != "https://api.example.com" {
		t.Fatalf("trailing slash should be trimmed, got %q", cfg.PublicBase)
	}
}

func TestLoadQueueConfigPrefersRabbitURL(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://b/")
	t.Setenv("NOTIFY_QUEUE", "")
	if q := LoadQueueConfig(); q.URL != "amqp://b/" || q.Queue != "dossier.notifications" {
		t.Fatalf("unexpected queue config %+v", q)
	}
	t.Setenv("RABBITMQ_URL", "amqp://a/")
	if q := LoadQueueConfig(); q.URL != "amqp://a/" {
		t.Fatalf("RABBITMQ_URL should win, got %q", q.URL)
	}
}

func TestLoadRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	if cfg.Capacity != 1 {
		t.Fatalf("capacity should be clamped to 1, got %d", cfg.Capacity)
	}
	if cfg.TTL != 10*time.Second {
		t.Fatalf("ttl should be at least five intervals, got %s", cfg.TTL)
	}
}

func TestLoadCacheConfigMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", " get, head ,")
	cfg := LoadCacheConfig()
	if !cfg.Methods["GET"] || !cfg.Methods["HEAD"] || len(cfg.Methods) != 2 {
		t.Fatalf("unexpected methods %v", cfg.Methods)
	}
}

func TestRateLimitScaled(t *testing.T) {
	base := RateLimitConfig{Prefix: "rl", Capacity: 60, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
	up := base.Scaled("upload", 0)
	if up.Prefix != "rl:upload" || up.Capacity != 1 {
		t.Fatalf("unexpected scaled config %+v", up)
	}
	if base.Prefix != "rl" {
		t.Fatal("scaling must not alter the base config")
	}
}

func TestLoadRedisConfigHostPortWins(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "1")
	cfg := LoadRedisConfig()
	if cfg.Addr != "redis:6380" || cfg.DB != 2 || !cfg.TLS {
		t.Fatalf("unexpected redis config %+v", cfg)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", " off ")
	t.Setenv("X_INT", "abc")
	t.Setenv("X_SET", "post,,Get")
	if envBool("X_BOOL", true) {
		t.Fatal("off should parse as false")
	}
	if envInt("X_INT", 9) != 9 {
		t.Fatal("unparsable int should fall back")
	}
	if s := envSet("X_SET", ""); !s["POST"] || !s["GET"] || len(s) != 2 {
		t.Fatalf("unexpected set %v", s)
	}
}
