package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const breakerName = "ip-api"

// ipAPIResponse ответ ip-api.com
type ipAPIResponse struct {
	Status  string `json:"status"` // "success" или "fail"
	Message string `json:"message"`
	Country string `json:"country"`
}

// IPAPIClient клиент ip-api.com за circuit breaker'ом: при массовых сбоях
// запросы перестают уходить наружу и сразу получают ошибку.
type IPAPIClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[Result]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type IPAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewIPAPIClient(cfg IPAPIConfig, m *metrics.Metrics, logger *zap.Logger) *IPAPIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://ip-api.com/json"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	c := &IPAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		logger:  logger,
	}

	c.cb = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		// открываемся при >= 60% ошибок, минимум 10 запросов
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, int(to))
		},
	})

	m.SetBreakerState(breakerName, int(gobreaker.StateClosed))
	return c
}

// Lookup страна по IP. Ответ со status != "success" это не ошибка, а Result{Success: false}.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (Result, error) {
	res, err := c.cb.Execute(func() (Result, error) {
		return c.query(ctx, ip)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		c.metrics.ObserveGeoLookup(outcome)
		return Result{}, err
	}

	if res.Success {
		c.metrics.ObserveGeoLookup("success")
	} else {
		c.metrics.ObserveGeoLookup("fail")
	}
	return res, nil
}

func (c *IPAPIClient) query(ctx context.Context, ip string) (Result, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,country", c.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to query ip-api.com: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("ip-api.com returned status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("failed to decode ip-api.com response: %w", err)
	}

	if body.Status != "success" {
		c.logger.Debug("ip-api.com lookup failed", zap.String("ip", ip), zap.String("message", body.Message))
		return Result{Success: false}, nil
	}
	return Result{Country: body.Country, Success: true}, nil
}
