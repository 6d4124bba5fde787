// Package geo определяет страну посетителя по IP.
package geo

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
)

// Result ответ внешнего сервиса геолокации
type Result struct {
	Country string `json:"country"`
	Success bool   `json:"success"`
}

// Resolver внешний сервис геолокации
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Result, error)
}

// IsLocalIP loopback, частные (RFC1918, ULA) и link-local адреса
func IsLocalIP(ip string) bool {
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

// CountryFor страна для IP. Локальные адреса не уходят во внешний сервис,
// любая ошибка или таймаут дают "Unknown".
func CountryFor(ctx context.Context, resolver Resolver, ip string, timeout time.Duration) string {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == models.CountryUnknown {
		return models.CountryUnknown
	}
	if IsLocalIP(ip) {
		return models.CountryLocal
	}
	if resolver == nil {
		return models.CountryUnknown
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return models.CountryUnknown
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := resolver.Lookup(ctx, ip)
	if err != nil || !res.Success || res.Country == "" {
		return models.CountryUnknown
	}
	return res.Country
}
