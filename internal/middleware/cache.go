package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/config"
)

// cachedResponse is the value stored per key.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h,omitempty"`
	Body   []byte      `json:"b"`
}

// recorder copies what the handler writes, up to limit bytes.
type recorder struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	written  int
	limit    int
	overflow bool
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.written += len(b)
	if r.limit > 0 && r.written > r.limit {
		r.overflow = true
		r.body.Reset()
	} else if !r.overflow {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

// cacheKey digests the request parts named in cfg.KeyStrategy.  The concrete
// path is always included so /products/1 and /products/2 never collide.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	h := sha256.New()
	for _, part := range strategyParts(cfg.KeyStrategy, "route_query") {
		switch part {
		case "method":
			h.Write([]byte("m=" + r.Method + "\n"))
		case "route":
			h.Write([]byte("r=" + c.Path() + "\n"))
		case "query":
			h.Write([]byte("q=" + r.URL.Query().Encode() + "\n"))
		}
	}
	h.Write([]byte("p=" + r.URL.Path))
	return cfg.Prefix + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	return json.Marshal(cachedResponse{Status: status, Header: header, Body: body})
}

func decodePayload(bs []byte) (int, http.Header, []byte, bool) {
	var cr cachedResponse
	if err := json.Unmarshal(bs, &cr); err != nil || cr.Status == 0 {
		return 0, nil, nil, false
	}
	return cr.Status, cr.Header, cr.Body, true
}

// NewRedisCache serves stored 200 responses for anonymous requests using the
// configured methods.  Anything carrying an Authorization header skips it.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	log = log.With(zap.String("component", "cache"))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !cfg.Methods[req.Method] || req.Header.Get(echo.HeaderAuthorization) != "" {
				return next(c)
			}
			key := cacheKey(cfg, c)

			bs, err := rdb.Get(req.Context(), key).Bytes()
			switch {
			case err == nil:
				if status, hdr, body, ok := decodePayload(bs); ok {
					return replay(c, status, hdr, body)
				}
				log.Warn("dropping undecodable cache entry", zap.String("key", key))
			case !errors.Is(err, redis.Nil):
				log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
			}

			rec := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			hdr.Del(echo.HeaderXRequestID)
			payload, err := encodePayload(rec.status, hdr, rec.body.Bytes())
			if err != nil {
				return nil
			}
			if err := rdb.Set(context.WithoutCancel(req.Context()), key, payload, cfg.TTL).Err(); err != nil {
				log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}

func replay(c echo.Context, status int, hdr http.Header, body []byte) error {
	out := c.Response().Header()
	for k, vals := range hdr {
		if strings.EqualFold(k, echo.HeaderContentLength) {
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	out.Set("X-Cache", "HIT")
	return c.Blob(status, hdr.Get(echo.HeaderContentType), body)
}

// PurgeCache removes every key under prefix.  Catalog writes call it so the
// public workflow reads pick up the change.
func PurgeCache(ctx context.Context, rdb *redis.Client, prefix string) error {
	if rdb == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, prefix+":*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := rdb.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
