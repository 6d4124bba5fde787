package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/config"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrCodeExists   = errors.New("short code already exists")
)

// LinkRepository хранилище ссылок. Все методы, принимающие ownerID,
// проверяют владельца в том же запросе и возвращают ErrLinkNotFound для чужих ссылок.
type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	GetActiveByShortCode(ctx context.Context, code string) (*models.Link, error)
	ExistsActiveShortCode(ctx context.Context, code, excludeID string) (bool, error)

	GetByID(ctx context.Context, id, ownerID string) (*models.Link, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Link, error)
	UpdateShortCode(ctx context.Context, id, ownerID, code string) (*models.Link, error)
	UpdateDestination(ctx context.Context, id, ownerID, destination string) (*models.Link, error)
	SetActive(ctx context.Context, id, ownerID string, active bool) (*models.Link, error)
	ToggleBookmark(ctx context.Context, id, ownerID string) (*models.Link, error)
	// Delete удаляет ссылку и возвращает её последний короткий код
	Delete(ctx context.Context, id, ownerID string) (string, error)

	// RecordClick атомарно увеличивает счётчик, добавляет событие и,
	// если callerID не пуст, добавляет его в множество посетителей
	RecordClick(ctx context.Context, linkID string, event models.ClickEvent, callerID string) error
	ListClickEvents(ctx context.Context, linkID string, limit int) ([]models.ClickEvent, error)
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, cfg config.DBConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// isUniqueViolation нарушение уникального индекса (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
