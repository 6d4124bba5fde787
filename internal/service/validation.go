package service

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	customCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	minCustomCodeLength = 3
	maxCustomCodeLength = 32
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// parseDestination абсолютный http/https URL с хостом
func parseDestination(raw string) (*url.URL, bool) {
	if strings.TrimSpace(raw) != raw || raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, false
	}
	return u, true
}

// validateURL проверяет формат URL назначения
func validateURL(raw string) (*url.URL, error) {
	if err := getValidator().Var(raw, "required,http_url"); err != nil {
		return nil, ErrInvalidURL
	}
	u, ok := parseDestination(raw)
	if !ok {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// isBlockedHost совпадение с доменом из списка или его поддоменом
func isBlockedHost(host string, blocked []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, domain := range blocked {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// validateCustomCode длина, допустимые символы и зарезервированные маршруты
func validateCustomCode(code string, reserved map[string]struct{}) error {
	if len(code) < minCustomCodeLength || len(code) > maxCustomCodeLength {
		return ErrInvalidCode
	}
	if !customCodePattern.MatchString(code) {
		return ErrInvalidCode
	}
	if _, ok := reserved[code]; ok {
		return ErrInvalidCode
	}
	return nil
}

func reservedSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
