package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/config"
)

// takeToken refills continuously at ARGV[3] tokens per millisecond and spends
// one token.  Returns {allowed, remaining, wait_ms}.
var takeToken = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local per_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens = tonumber(bucket[1]) or capacity
local at = tonumber(bucket[2]) or now
if now > at then
	tokens = math.min(capacity, tokens + (now - at) * per_ms)
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
elseif per_ms > 0 then
	wait_ms = math.ceil((1 - tokens) / per_ms)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'at', now)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return { allowed, math.floor(tokens), wait_ms }
`)

// NewTokenBucket throttles requests per key.  Without Redis it does nothing,
// and a failing Redis lets traffic through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	log = log.With(zap.String("component", "ratelimit"), zap.String("prefix", cfg.Prefix))
	intervalMs := max(cfg.RefillInterval.Milliseconds(), 1)
	perMs := float64(cfg.RefillTokens) / float64(intervalMs)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, perMs, cfg.TTL.Milliseconds()).Int64Slice()
			if err != nil || len(res) != 3 {
				log.Warn("token bucket unavailable, allowing request", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res[0] == 1 {
				return next(c)
			}

			wait := time.Duration(res[2]) * time.Millisecond
			secs := int((wait + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			log.Debug("throttled", zap.String("key", key), zap.Duration("wait", wait))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "rate_limited",
				"message":     "too many requests, slow down",
				"retry_after": secs,
			})
		}
	}
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// rateKey joins the prefix with the request parts named in cfg.KeyStrategy,
// an underscore list over ip, user and route.  Unknown or empty strategies
// use all three.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	for _, part := range strategyParts(cfg.KeyStrategy, "ip_user_route") {
		switch part {
		case "ip":
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		case "user":
			uid := "anon"
			if p, ok := PrincipalFrom(c); ok {
				uid = strconv.FormatUint(p.UserID, 10)
			}
			parts = append(parts, "user", uid)
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		}
	}
	return strings.Join(parts, ":")
}

// strategyParts splits an underscore list, falling back to def when the
// list names nothing recognised.
func strategyParts(strategy, def string) []string {
	known := map[string]bool{"ip": true, "user": true, "route": true, "method": true, "query": true}
	var out []string
	for _, p := range strings.Split(strings.ToLower(strategy), "_") {
		if known[p] {
			out = append(out, p)
		}
	}
	if len(out) == 0 && def != "" {
		return strategyParts(def, "")
	}
	return out
}
