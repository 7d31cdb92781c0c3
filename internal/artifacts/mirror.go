package artifacts

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	u "pdf2html/internal/utils"
)

const mirrorPrefix = "htmlcache:"

// Mirror keeps recently converted HTML in Redis in front of the Store.
// A nil *Mirror is valid and behaves as an always-missing cache.
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMirror returns a Mirror over rdb, or nil when rdb is nil.
func NewMirror(rdb *redis.Client, ttl time.Duration) *Mirror {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Mirror{rdb: rdb, ttl: ttl}
}

// Get returns the mirrored HTML for key. Redis failures are logged and
// reported as a miss.
func (m *Mirror) Get(ctx context.Context, key Key) (string, bool) {
	if m == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	html, err := m.rdb.Get(ctx, mirrorPrefix+string(key)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		u.Warn("Redis read failed", "key", key, "error", err)
		return "", false
	}
	return html, true
}

// Set stores html for key with the mirror TTL.
func (m *Mirror) Set(ctx context.Context, key Key, html string) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := m.rdb.Set(ctx, mirrorPrefix+string(key), html, m.ttl).Err(); err != nil {
		u.Warn("Redis write failed", "key", key, "error", err)
	}
}
