package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

const linkColumns = `id, owner_id, short_code, destination_url, is_active, is_bookmarked,
	click_count, metadata, expires_at, created_at, updated_at`

const linkColumnsWithVisitors = linkColumns + `,
	COALESCE((SELECT array_agg(v.visitor_id ORDER BY v.first_seen_at)
		FROM link_visitors v WHERE v.link_id = links.id), '{}')`

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

func scanLink(row pgx.Row, withVisitors bool) (*models.Link, error) {
	link := &models.Link{}
	dest := []any{
		&link.ID,
		&link.OwnerID,
		&link.ShortCode,
		&link.DestinationURL,
		&link.IsActive,
		&link.IsBookmarked,
		&link.ClickCount,
		&link.Metadata,
		&link.ExpiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	}
	if withVisitors {
		dest = append(dest, &link.VisitorIDs)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

func (r *linkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (id, owner_id, short_code, destination_url, is_active, is_bookmarked,
			metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool.Exec(
		ctx,
		query,
		link.ID,
		link.OwnerID,
		link.ShortCode,
		link.DestinationURL,
		link.IsActive,
		link.IsBookmarked,
		link.Metadata,
		link.ExpiresAt,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetActiveByShortCode(ctx context.Context, code string) (*models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE short_code = $1 AND is_active AND (expires_at IS NULL OR expires_at > NOW())
	`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code), false)
	if err != nil && !errors.Is(err, ErrLinkNotFound) {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, err
}

func (r *linkRepository) ExistsActiveShortCode(ctx context.Context, code, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM links WHERE short_code = $1 AND is_active AND id::text <> $2)`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, code, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return exists, nil
}

func (r *linkRepository) GetByID(ctx context.Context, id, ownerID string) (*models.Link, error) {
	query := `
		SELECT ` + linkColumnsWithVisitors + `
		FROM links
		WHERE id = $1 AND owner_id = $2
	`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, id, ownerID), true)
	if err != nil && !errors.Is(err, ErrLinkNotFound) {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, err
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Link, error) {
	query := `
		SELECT ` + linkColumnsWithVisitors + `
		FROM links
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := []*models.Link{}
	for rows.Next() {
		link, err := scanLink(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// updateOwned выполняет UPDATE по (id, owner_id) и возвращает обновлённую строку
func (r *linkRepository) updateOwned(ctx context.Context, set string, id, ownerID string, args ...any) (*models.Link, error) {
	query := `
		UPDATE links SET ` + set + `, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + linkColumnsWithVisitors

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, append([]any{id, ownerID}, args...)...), true)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	return link, nil
}

func (r *linkRepository) UpdateShortCode(ctx context.Context, id, ownerID, code string) (*models.Link, error) {
	return r.updateOwned(ctx, "short_code = $3", id, ownerID, code)
}

func (r *linkRepository) UpdateDestination(ctx context.Context, id, ownerID, destination string) (*models.Link, error) {
	return r.updateOwned(ctx, "destination_url = $3", id, ownerID, destination)
}

func (r *linkRepository) SetActive(ctx context.Context, id, ownerID string, active bool) (*models.Link, error) {
	return r.updateOwned(ctx, "is_active = $3", id, ownerID, active)
}

func (r *linkRepository) ToggleBookmark(ctx context.Context, id, ownerID string) (*models.Link, error) {
	return r.updateOwned(ctx, "is_bookmarked = NOT is_bookmarked", id, ownerID)
}

func (r *linkRepository) Delete(ctx context.Context, id, ownerID string) (string, error) {
	query := `DELETE FROM links WHERE id = $1 AND owner_id = $2 RETURNING short_code`

	var code string
	err := r.db.Pool.QueryRow(ctx, query, id, ownerID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLinkNotFound
		}
		return "", fmt.Errorf("failed to delete link: %w", err)
	}

	return code, nil
}

func (r *linkRepository) RecordClick(ctx context.Context, linkID string, event models.ClickEvent, callerID string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE links SET click_count = click_count + 1, updated_at = NOW() WHERE id = $1`,
		linkID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment click count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO click_events (link_id, visitor_id, device, browser, os, country, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		linkID,
		nullIfEmpty(event.VisitorID),
		event.Device,
		event.Browser,
		event.OS,
		event.Country,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}

	if callerID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO link_visitors (link_id, visitor_id, first_seen_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (link_id, visitor_id) DO NOTHING
		`, linkID, callerID, event.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to add visitor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit click: %w", err)
	}
	return nil
}

func (r *linkRepository) ListClickEvents(ctx context.Context, linkID string, limit int) ([]models.ClickEvent, error) {
	query := `
		SELECT clicked_at, visitor_id, device, browser, os, country
		FROM click_events
		WHERE link_id = $1
		ORDER BY clicked_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list click events: %w", err)
	}
	defer rows.Close()

	events := []models.ClickEvent{}
	for rows.Next() {
		var (
			event     models.ClickEvent
			visitorID *string
		)
		if err := rows.Scan(&event.Timestamp, &visitorID, &event.Device, &event.Browser, &event.OS, &event.Country); err != nil {
			return nil, fmt.Errorf("failed to scan click event: %w", err)
		}
		if visitorID != nil {
			event.VisitorID = *visitorID
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating click events: %w", err)
	}

	return events, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
