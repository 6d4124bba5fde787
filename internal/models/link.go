package models

import (
	"time"
)

// Link короткая ссылка вместе с накопленной статистикой кликов
type Link struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	ShortCode      string        `json:"short_code"`
	DestinationURL string        `json:"destination_url"`
	IsActive       bool          `json:"is_active"`
	IsBookmarked   bool          `json:"is_bookmarked"`
	ClickCount     int64         `json:"click_count"`
	VisitorIDs     []string      `json:"visitor_ids,omitempty"`
	ClickEvents    []ClickEvent  `json:"click_events,omitempty"`
	Metadata       *LinkMetadata `json:"metadata,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsExpired истёк ли срок жизни ссылки на момент now
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Resolvable ссылка активна и не истекла
func (l *Link) Resolvable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// LinkMetadata данные о странице назначения, хранятся как есть
type LinkMetadata struct {
	Title          string   `json:"title,omitempty"`
	ShortTitle     string   `json:"short_title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Image          string   `json:"image,omitempty"`
	Favicon        string   `json:"favicon,omitempty"`
	SiteName       string   `json:"site_name,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Language       string   `json:"language,omitempty"`
}

type CreateLinkInput struct {
	OwnerID        string
	DestinationURL string
	ShortCode      string
	ExpiresIn      *int // минуты
}

// UpdateLinkInput частичное обновление; nil поле не меняется
type UpdateLinkInput struct {
	DestinationURL *string
	ShortCode      *string
	IsActive       *bool
}
