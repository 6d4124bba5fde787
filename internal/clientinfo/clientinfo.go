// Package clientinfo извлекает из запроса данные об устройстве посетителя и его IP.
package clientinfo

import (
	"net/http"
	"strings"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/mssola/useragent"
)

// UnknownIP значение, когда адрес клиента определить нельзя
const UnknownIP = "Unknown"

// DeviceInfo результат классификации User-Agent
type DeviceInfo struct {
	Device  string
	Browser *string
	OS      *string
}

// Classify определяет тип устройства, браузер и ОС. Никогда не паникует:
// пустая или непонятная строка даёт desktop без браузера и ОС.
func Classify(ua string) (info DeviceInfo) {
	info = DeviceInfo{Device: models.DeviceDesktop}
	if strings.TrimSpace(ua) == "" {
		return info
	}

	defer func() {
		if r := recover(); r != nil {
			info = DeviceInfo{Device: models.DeviceDesktop}
		}
	}()

	// tablet важнее mobile
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "tablet"):
		info.Device = models.DeviceTablet
	case strings.Contains(lower, "mobile"):
		info.Device = models.DeviceMobile
	}

	parsed := useragent.New(ua)
	if name, _ := parsed.Browser(); known(name) {
		info.Browser = &name
	}
	if osName := parsed.OSInfo().Name; known(osName) {
		info.OS = &osName
	}
	return info
}

func known(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.EqualFold(name, "unknown")
}

// ClientIP первый адрес из X-Forwarded-For, затем X-Real-IP, иначе "Unknown"
func ClientIP(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownIP
}
