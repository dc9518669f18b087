package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	r := gin.New()
	var seen string
	r.GET("/p", RequestID(), func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))

	header := rec.Header().Get("X-Request-ID")
	_, err := uuid.Parse(header)
	require.NoError(t, err)
	assert.Equal(t, header, seen)
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		connect     []string
		wantConnect string
	}{
		{name: "default connect-src", wantConnect: "connect-src 'self' " + defaultConnectSrc},
		{name: "configured connect-src", connect: []string{"https://a.example", " ", "https://b.example"}, wantConnect: "connect-src 'self' https://a.example https://b.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := gin.New()
			r.Use(SecurityHeaders(tt.connect))
			r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p", nil))

			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
			assert.Equal(t, "noindex, nofollow", rec.Header().Get("X-Robots-Tag"))
			csp := rec.Header().Get("Content-Security-Policy")
			assert.Contains(t, csp, "default-src 'self'")
			assert.Contains(t, csp, tt.wantConnect)
			assert.Contains(t, csp, "object-src 'none'")
		})
	}
}

func TestHTTPSRedirect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		enabled    bool
		path       string
		proto      string
		wantStatus int
		wantTarget string
	}{
		{name: "disabled", enabled: false, path: "/api/users", proto: "http", wantStatus: http.StatusOK},
		{name: "plain http redirected", enabled: true, path: "/api/users?page=2", proto: "http", wantStatus: http.StatusMovedPermanently, wantTarget: "https://example.com/api/users?page=2"},
		{name: "already https", enabled: true, path: "/api/users", proto: "https", wantStatus: http.StatusOK},
		{name: "no proxy header", enabled: true, path: "/api/users", wantStatus: http.StatusOK},
		{name: "health exempt", enabled: true, path: "/api/health", proto: "http", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := gin.New()
			r.Use(HTTPSRedirect(tt.enabled))
			r.GET("/api/users", func(c *gin.Context) { c.Status(http.StatusOK) })
			r.GET("/api/health", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "http://example.com"+tt.path, nil)
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantTarget != "" {
				assert.Equal(t, tt.wantTarget, rec.Header().Get("Location"))
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(CORS("https://app.example"))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/p", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{name: "socket", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded by trusted proxy", remoteAddr: "127.0.0.1:1", xff: "198.51.100.7", want: "198.51.100.7"},
		{name: "nearest untrusted hop", remoteAddr: "127.0.0.1:1", xff: "198.51.100.7, 203.0.113.5", want: "203.0.113.5"},
		{
			name: "chain of trusted proxies", trusted: []string{"127.0.0.1", "10.0.0.0/8"},
			remoteAddr: "127.0.0.1:1", xff: " 198.51.100.7 , 10.0.0.1", want: "198.51.100.7",
		},
		{name: "real ip from trusted proxy", remoteAddr: "127.0.0.1:1", xri: "198.51.100.8", want: "198.51.100.8"},
		{name: "forwarded wins over real ip", remoteAddr: "127.0.0.1:1", xff: "198.51.100.7", xri: "198.51.100.8", want: "198.51.100.7"},
		{name: "forwarded from untrusted peer ignored", remoteAddr: "192.0.2.1:1234", xff: "10.0.0.1", want: "192.0.2.1"},
		{name: "real ip from untrusted peer ignored", remoteAddr: "192.0.2.1:1234", xri: "10.0.0.1", want: "192.0.2.1"},
		{name: "no port", remoteAddr: "192.0.2.1", want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trusted := tt.trusted
			if trusted == nil {
				trusted = []string{"127.0.0.1"}
			}
			c, engine := gin.CreateTestContext(httptest.NewRecorder())
			require.NoError(t, engine.SetTrustedProxies(trusted))
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				c.Request.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				c.Request.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, ClientIP(c))
		})
	}
}
