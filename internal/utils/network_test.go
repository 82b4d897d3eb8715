package utils

import (
	"net"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func contextWithHeaders(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.10:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"public X-Real-IP", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"private X-Real-IP falls through", map[string]string{"X-Real-IP": "10.1.2.3", "X-Forwarded-For": "198.51.100.2"}, "198.51.100.2"},
		{"first public forwarded", map[string]string{"X-Forwarded-For": "10.0.0.1, 127.0.0.1, 198.51.100.4, 203.0.113.1"}, "198.51.100.4"},
		{"all private forwarded", map[string]string{"X-Forwarded-For": "10.0.0.1, 172.16.0.3"}, "10.0.0.1"},
		{"no headers", nil, "192.168.1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetRealIP(contextWithHeaders(tt.headers)))
		})
	}
}

func TestGetUserAgent(t *testing.T) {
	c := contextWithHeaders(nil)
	assert.Equal(t, "Unknown", GetUserAgent(c))

	c = contextWithHeaders(map[string]string{"User-Agent": "curl/8.0"})
	assert.Equal(t, "curl/8.0", GetUserAgent(c))
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, IsPrivateIP(net.ParseIP("10.10.10.10")))
	assert.True(t, IsPrivateIP(net.ParseIP("172.31.255.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("192.168.0.1")))
	assert.False(t, IsPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, IsPrivateIP(nil))
}

func TestParseUserAgent(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		info := ParseUserAgent("")
		assert.Equal(t, "unknown", info.DeviceType)
		assert.Equal(t, "unknown", info.Platform)
	})

	t.Run("android phone", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36")
		assert.Equal(t, "mobile", info.DeviceType)
		assert.Equal(t, "android", info.Platform)
		assert.Equal(t, "Chrome", info.Browser)
		assert.False(t, info.IsBot)
	})

	t.Run("desktop", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		assert.Equal(t, "desktop", info.DeviceType)
		assert.Equal(t, "windows", info.Platform)
	})

	t.Run("bot", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
		assert.True(t, info.IsBot)
	})
}

func TestGenerateShareSecret(t *testing.T) {
	a, err := GenerateShareSecret()
	assert.NoError(t, err)
	b, err := GenerateShareSecret()
	assert.NoError(t, err)

	assert.Len(t, a, MinShareSecretBytes*2)
	assert.NotEqual(t, a, b)
}
