package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/SergeiKhy/shortlink-analytics/internal/clientinfo"
	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"go.uber.org/zap"
)

// OutcomeKind результат разрешения сегмента пути
type OutcomeKind int

const (
	// OutcomeRedirect редирект на адрес ссылки
	OutcomeRedirect OutcomeKind = iota
	// OutcomeFallback ссылка не найдена, неактивна или сломана: уводим на адрес по умолчанию
	OutcomeFallback
	// OutcomeNotAShortCode сегмент это маршрут приложения, а не код
	OutcomeNotAShortCode
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeFallback:
		return "fallback"
	case OutcomeNotAShortCode:
		return "not_a_short_code"
	default:
		return "unknown"
	}
}

type RedirectOutcome struct {
	Kind     OutcomeKind
	Location string
	LinkID   string
	// Cause причина Fallback: ErrNotFound, ErrInvalidDestination или ошибка хранилища
	Cause error
}

// RequestInfo то, что резолверу нужно от входящего запроса
type RequestInfo struct {
	Headers  http.Header
	CallerID string
}

// LinkLookup поиск активной ссылки по коду
type LinkLookup interface {
	GetActiveLink(ctx context.Context, code string) (*models.Link, error)
}

type RedirectResolver struct {
	links       LinkLookup
	recorder    ClickRecorder
	reserved    map[string]struct{}
	fallbackURL string
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewRedirectResolver(
	links LinkLookup,
	recorder ClickRecorder,
	reservedRoutes []string,
	fallbackURL string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RedirectResolver {
	if fallbackURL == "" {
		fallbackURL = "/"
	}
	return &RedirectResolver{
		links:       links,
		recorder:    recorder,
		reserved:    reservedSet(reservedRoutes),
		fallbackURL: fallbackURL,
		metrics:     m,
		logger:      logger,
	}
}

// FallbackURL адрес, куда уводит любой неразрешённый код
func (r *RedirectResolver) FallbackURL() string {
	return r.fallbackURL
}

// Resolve разрешает сегмент пути. Никогда не возвращает ошибку: любой сбой
// превращается в Fallback. Клик записывается асинхронно и только при Redirect.
func (r *RedirectResolver) Resolve(ctx context.Context, segment string, req RequestInfo) (out RedirectOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while resolving short code", zap.String("code", segment), zap.String("panic", fmt.Sprint(rec)))
			out = r.fallback(fmt.Errorf("panic: %v", rec))
		}
		r.metrics.ObserveRedirect(out.Kind.String())
	}()

	if segment == "" {
		return RedirectOutcome{Kind: OutcomeNotAShortCode}
	}
	if _, ok := r.reserved[segment]; ok {
		return RedirectOutcome{Kind: OutcomeNotAShortCode}
	}

	link, err := r.links.GetActiveLink(ctx, segment)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("Short code lookup failed", zap.String("code", segment), zap.Error(err))
		}
		return r.fallback(err)
	}

	if _, ok := parseDestination(link.DestinationURL); !ok {
		r.logger.Warn("Link has malformed destination",
			zap.String("code", segment),
			zap.String("link_id", link.ID),
		)
		return r.fallback(ErrInvalidDestination)
	}

	headers := req.Headers
	if headers == nil {
		headers = http.Header{}
	}
	r.recorder.Record(ClickRequest{
		LinkID:    link.ID,
		ShortCode: link.ShortCode,
		UserAgent: headers.Get("User-Agent"),
		ClientIP:  clientinfo.ClientIP(headers),
		CallerID:  req.CallerID,
	})

	return RedirectOutcome{
		Kind:     OutcomeRedirect,
		Location: link.DestinationURL,
		LinkID:   link.ID,
	}
}

func (r *RedirectResolver) fallback(cause error) RedirectOutcome {
	return RedirectOutcome{
		Kind:     OutcomeFallback,
		Location: r.fallbackURL,
		Cause:    cause,
	}
}
