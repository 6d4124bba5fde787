package models

import (
	"time"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"

	CountryUnknown = "Unknown"
	CountryLocal   = "Local Development"
)

// ClickEvent одна запись о переходе по ссылке
type ClickEvent struct {
	Timestamp time.Time `json:"timestamp"`
	VisitorID string    `json:"visitor_id,omitempty"`
	Device    string    `json:"device"`
	Browser   *string   `json:"browser"`
	OS        *string   `json:"os"`
	Country   string    `json:"country"`
}

// BrowserName имя браузера или "Unknown"
func (e ClickEvent) BrowserName() string {
	if e.Browser == nil {
		return "Unknown"
	}
	return *e.Browser
}

// OSName имя ОС или "Unknown"
func (e ClickEvent) OSName() string {
	if e.OS == nil {
		return "Unknown"
	}
	return *e.OS
}
