package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type snapshot struct {
	status  int
	headers http.Header
	body    []byte
}

type recordingWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache keeps successful GET responses in memory, keyed by request
// URI, until the TTL passes or Purge is called.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Len returns the number of cached responses, expired ones included until
// the janitor runs.
func (rc *ResponseCache) Len() int {
	return rc.store.ItemCount()
}

// Purge drops every cached response.
func (rc *ResponseCache) Purge() {
	rc.store.Flush()
}

// Middleware serves GET requests from the cache and records misses. Hits
// carry X-Cache: HIT.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if v, found := rc.store.Get(key); found {
			snap := v.(snapshot)
			h := c.Writer.Header()
			for k, vals := range snap.headers {
				h[k] = vals
			}
			h.Set("X-Cache", "HIT")
			c.Writer.WriteHeader(snap.status)
			c.Writer.Write(snap.body)
			c.Abort()
			return
		}

		rw := &recordingWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rw
		c.Writer.Header().Set("X-Cache", "MISS")

		c.Next()

		if status := rw.Status(); status >= 200 && status < 300 {
			headers := rw.Header().Clone()
			headers.Del("X-Cache")
			rc.store.Set(key, snapshot{status: status, headers: headers, body: rw.buf.Bytes()}, rc.ttl)
		}
	}
}

// Invalidate purges the cache once the wrapped handler succeeds. It sits
// on endpoints that change device state.
func (rc *ResponseCache) Invalidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if status := c.Writer.Status(); status >= 200 && status < 300 {
			rc.Purge()
		}
	}
}
