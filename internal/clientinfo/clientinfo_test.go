package clientinfo

import (
	"net/http"
	"testing"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	androidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Tablet Mobile"
)

func TestClassify_Device(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"empty", "", models.DeviceDesktop},
		{"whitespace", "   ", models.DeviceDesktop},
		{"desktop chrome", chromeWindows, models.DeviceDesktop},
		{"mobile safari", safariIPhone, models.DeviceMobile},
		{"tablet wins over mobile", androidTablet, models.DeviceTablet},
		{"case insensitive", "SOMETHING MOBILE", models.DeviceMobile},
		{"tablet lower case", "my tablet device", models.DeviceTablet},
		{"garbage", "%%%garbage%%%", models.DeviceDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ua).Device)
		})
	}
}

func TestClassify_EmptyHasNoBrowserOrOS(t *testing.T) {
	info := Classify("")
	assert.Nil(t, info.Browser)
	assert.Nil(t, info.OS)
}

func TestClassify_BrowserAndOS(t *testing.T) {
	info := Classify(chromeWindows)
	require.NotNil(t, info.Browser)
	assert.Equal(t, "Chrome", *info.Browser)
	require.NotNil(t, info.OS)
	assert.Contains(t, *info.OS, "Windows")
}

func TestClassify_NeverPanics(t *testing.T) {
	inputs := []string{"(", ")", ";;;", "Mozilla/", "Mozilla/5.0 (", "\x00\xff", "a/b/c/d (e; f) g/h"}
	for _, ua := range inputs {
		assert.NotPanics(t, func() { Classify(ua) })
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"forwarded with spaces", map[string]string{"X-Forwarded-For": "  198.51.100.2 "}, "198.51.100.2"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"forwarded beats real ip", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"empty forwarded entry falls back", map[string]string{"X-Forwarded-For": ",1.1.1.1", "X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"nothing", nil, UnknownIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h))
		})
	}
}
