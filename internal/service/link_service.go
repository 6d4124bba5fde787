package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/SergeiKhy/shortlink-analytics/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Константы сервиса
const (
	defaultCacheTTL      = time.Hour
	maxTTL               = 30 * 24 * time.Hour
	codeLength           = 8
	charset              = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxGenerateAttempts  = 5
	defaultRecentClicks  = 50
	maxRecentClicksLimit = 1000
)

// Enricher собирает метаданные страницы назначения (заголовок, описание, иконку).
// Ошибка не мешает созданию ссылки.
type Enricher interface {
	Enrich(ctx context.Context, destinationURL string) (*models.LinkMetadata, error)
}

// LinkService интерфейс сервиса ссылок
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error)
	// GetActiveLink разрешение кода для редиректа: кэш, затем хранилище
	GetActiveLink(ctx context.Context, code string) (*models.Link, error)

	GetLink(ctx context.Context, id, callerID string, recentClicks int) (*models.Link, error)
	ListLinks(ctx context.Context, callerID string) ([]*models.Link, error)
	RenameLink(ctx context.Context, id, newCode, callerID string) (*models.Link, error)
	UpdateDestination(ctx context.Context, id, newURL, callerID string) (*models.Link, error)
	SetActive(ctx context.Context, id string, active bool, callerID string) (*models.Link, error)
	UpdateLink(ctx context.Context, id, callerID string, input models.UpdateLinkInput) (*models.Link, error)
	ToggleBookmark(ctx context.Context, id, callerID string) (*models.Link, error)
	DeleteLink(ctx context.Context, id, callerID string) error
}

type LinkServiceConfig struct {
	CacheTTL       time.Duration
	BlockedDomains []string
	ReservedCodes  []string
	Enricher       Enricher
	Metrics        *metrics.Metrics
}

// linkService реализация сервиса ссылок
type linkService struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	cfg       LinkServiceConfig
	reserved  map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// NewLinkService создаёт новый экземпляр сервиса
func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	cfg LinkServiceConfig,
	logger *zap.Logger,
) LinkService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cacheRepo == nil {
		cacheRepo = repository.NewNoopCache()
	}
	return &linkService{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		cfg:       cfg,
		reserved:  reservedSet(cfg.ReservedCodes),
		logger:    logger,
		now:       time.Now,
	}
}

// CreateLink создаёт новую короткую ссылку
func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	if input.OwnerID == "" {
		return nil, ErrUnauthorized
	}

	// Валидация URL и проверка чёрного списка
	u, err := validateURL(input.DestinationURL)
	if err != nil {
		return nil, err
	}
	if isBlockedHost(u.Hostname(), s.cfg.BlockedDomains) {
		return nil, ErrBlockedDomain
	}

	custom := input.ShortCode != ""
	if custom {
		if err := validateCustomCode(input.ShortCode, s.reserved); err != nil {
			return nil, err
		}
		taken, err := s.linkRepo.ExistsActiveShortCode(ctx, input.ShortCode, "")
		if err != nil {
			return nil, fmt.Errorf("failed to check code: %w", err)
		}
		if taken {
			return nil, ErrCodeTaken
		}
	}

	// Расчёт TTL
	now := s.now()
	var expiresAt *time.Time
	if input.ExpiresIn != nil && *input.ExpiresIn > 0 {
		// сравнение в минутах до умножения, иначе Duration переполняется
		ttl := maxTTL
		if minutes := *input.ExpiresIn; minutes < int(maxTTL/time.Minute) {
			ttl = time.Duration(minutes) * time.Minute
		}
		t := now.Add(ttl)
		expiresAt = &t
	}

	link := &models.Link{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		ShortCode:      input.ShortCode,
		DestinationURL: input.DestinationURL,
		IsActive:       true,
		Metadata:       s.enrich(ctx, input.DestinationURL),
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 1; ; attempt++ {
		if !custom {
			code, err := s.generateShortCode()
			if err != nil {
				return nil, fmt.Errorf("failed to generate code: %w", err)
			}
			link.ShortCode = code
		}

		version := s.cacheVersion(ctx, link.ShortCode)
		err := s.linkRepo.Create(ctx, link)
		if err == nil {
			s.cacheLink(ctx, link, version)
			return link, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return nil, err
		}
		// кастомный код заняли между проверкой и вставкой
		if custom || attempt >= maxGenerateAttempts {
			return nil, ErrCodeTaken
		}
		s.logger.Debug("Generated code collision, retrying", zap.Int("attempt", attempt))
	}
}

func (s *linkService) enrich(ctx context.Context, destination string) *models.LinkMetadata {
	if s.cfg.Enricher == nil {
		return nil
	}
	md, err := s.cfg.Enricher.Enrich(ctx, destination)
	if err != nil {
		s.logger.Warn("Failed to enrich link metadata", zap.String("url", destination), zap.Error(err))
		return nil
	}
	return md
}

// GetActiveLink получает активную ссылку по короткому коду (сначала из кэша, затем из БД)
func (s *linkService) GetActiveLink(ctx context.Context, code string) (*models.Link, error) {
	now := s.now()

	link, err := s.cacheRepo.Get(ctx, code)
	switch {
	case err == nil:
		if link.Resolvable(now) {
			s.cfg.Metrics.ObserveCache("hit")
			return link, nil
		}
		s.invalidate(ctx, code)
	case errors.Is(err, repository.ErrCacheMiss):
		s.cfg.Metrics.ObserveCache("miss")
	default:
		s.cfg.Metrics.ObserveCache("error")
		s.logger.Warn("Link cache read failed", zap.String("code", code), zap.Error(err))
	}

	// версия читается до БД: инвалидация после чтения отменит запись в кэш
	version := s.cacheVersion(ctx, code)
	link, err = s.linkRepo.GetActiveByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !link.Resolvable(now) {
		return nil, ErrNotFound
	}

	s.cacheLink(ctx, link, version)
	return link, nil
}

func (s *linkService) GetLink(ctx context.Context, id, callerID string, recentClicks int) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}

	link, err := s.linkRepo.GetByID(ctx, id, callerID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	if recentClicks <= 0 {
		recentClicks = defaultRecentClicks
	}
	if recentClicks > maxRecentClicksLimit {
		recentClicks = maxRecentClicksLimit
	}
	events, err := s.linkRepo.ListClickEvents(ctx, link.ID, recentClicks)
	if err != nil {
		return nil, err
	}
	link.ClickEvents = events
	return link, nil
}

func (s *linkService) ListLinks(ctx context.Context, callerID string) ([]*models.Link, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	return s.linkRepo.ListByOwner(ctx, callerID)
}

func (s *linkService) RenameLink(ctx context.Context, id, newCode, callerID string) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}
	if err := validateCustomCode(newCode, s.reserved); err != nil {
		return nil, err
	}

	current, err := s.linkRepo.GetByID(ctx, id, callerID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if current.ShortCode == newCode {
		return current, nil
	}

	taken, err := s.linkRepo.ExistsActiveShortCode(ctx, newCode, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check code: %w", err)
	}
	if taken {
		return nil, ErrCodeTaken
	}

	link, err := s.linkRepo.UpdateShortCode(ctx, id, callerID, newCode)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.invalidate(ctx, current.ShortCode, newCode)
	return link, nil
}

func (s *linkService) UpdateDestination(ctx context.Context, id, newURL, callerID string) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}
	u, err := validateURL(newURL)
	if err != nil {
		return nil, err
	}
	if isBlockedHost(u.Hostname(), s.cfg.BlockedDomains) {
		return nil, ErrBlockedDomain
	}

	link, err := s.linkRepo.UpdateDestination(ctx, id, callerID, newURL)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.invalidate(ctx, link.ShortCode)
	return link, nil
}

func (s *linkService) SetActive(ctx context.Context, id string, active bool, callerID string) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}

	link, err := s.linkRepo.SetActive(ctx, id, callerID, active)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.invalidate(ctx, link.ShortCode)
	return link, nil
}

// UpdateLink применяет частичное обновление: адрес, код, затем активность.
// Поля применяются по очереди, ошибка на середине оставляет уже применённые.
func (s *linkService) UpdateLink(ctx context.Context, id, callerID string, input models.UpdateLinkInput) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}

	var (
		link *models.Link
		err  error
	)
	if input.DestinationURL != nil {
		if link, err = s.UpdateDestination(ctx, id, *input.DestinationURL, callerID); err != nil {
			return nil, err
		}
	}
	if input.ShortCode != nil {
		if link, err = s.RenameLink(ctx, id, *input.ShortCode, callerID); err != nil {
			return nil, err
		}
	}
	if input.IsActive != nil {
		if link, err = s.SetActive(ctx, id, *input.IsActive, callerID); err != nil {
			return nil, err
		}
	}

	if link == nil {
		if link, err = s.linkRepo.GetByID(ctx, id, callerID); err != nil {
			return nil, mapRepoError(err)
		}
	}
	return link, nil
}

func (s *linkService) ToggleBookmark(ctx context.Context, id, callerID string) (*models.Link, error) {
	if err := checkIdentity(id, callerID); err != nil {
		return nil, err
	}

	link, err := s.linkRepo.ToggleBookmark(ctx, id, callerID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return link, nil
}

// DeleteLink удаляет ссылку владельца, код сразу освобождается
func (s *linkService) DeleteLink(ctx context.Context, id, callerID string) error {
	if err := checkIdentity(id, callerID); err != nil {
		return err
	}

	code, err := s.linkRepo.Delete(ctx, id, callerID)
	if err != nil {
		return mapRepoError(err)
	}

	s.invalidate(ctx, code)
	return nil
}

// cacheVersion версия кода в кэше; -1 если кэш недоступен (запись пропускается)
func (s *linkService) cacheVersion(ctx context.Context, code string) int64 {
	version, err := s.cacheRepo.Version(ctx, code)
	if err != nil {
		s.logger.Warn("Failed to read link cache version", zap.String("code", code), zap.Error(err))
		return -1
	}
	return version
}

// cacheLink кэширует ссылку, но не дольше её срока жизни
func (s *linkService) cacheLink(ctx context.Context, link *models.Link, version int64) {
	if version < 0 {
		return
	}
	ttl := s.cfg.CacheTTL
	if link.ExpiresAt != nil {
		if untilExpiry := link.ExpiresAt.Sub(s.now()); untilExpiry < ttl {
			ttl = untilExpiry
		}
	}
	if err := s.cacheRepo.Set(ctx, link.ShortCode, link, ttl, version); err != nil {
		// Логгируем ошибку, но не прерываем операцию
		s.logger.Warn("Failed to cache link", zap.String("code", link.ShortCode), zap.Error(err))
	}
}

func (s *linkService) invalidate(ctx context.Context, codes ...string) {
	if err := s.cacheRepo.Delete(ctx, codes...); err != nil {
		s.logger.Warn("Failed to invalidate link cache", zap.Strings("codes", codes), zap.Error(err))
	}
}

// generateShortCode генерирует случайный короткий код длиной 8 символов
func (s *linkService) generateShortCode() (string, error) {
	result := make([]byte, codeLength)
	for {
		for i := 0; i < codeLength; i++ {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
			if err != nil {
				return "", err
			}
			result[i] = charset[num.Int64()]
		}
		if _, reserved := s.reserved[string(result)]; !reserved {
			return string(result), nil
		}
	}
}

// checkIdentity без вызывающего Unauthorized, кривой id неотличим от чужого
func checkIdentity(id, callerID string) error {
	if callerID == "" {
		return ErrUnauthorized
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return nil
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrLinkNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrCodeExists):
		return ErrCodeTaken
	default:
		return err
	}
}
