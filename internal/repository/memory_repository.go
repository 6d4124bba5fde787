package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/models"
)

// memoryEntry ссылка и её собственный мьютекс. Запись клика берёт только его,
// поэтому клики по разным ссылкам не конкурируют между собой.
type memoryEntry struct {
	mu       sync.Mutex
	link     models.Link
	visitors map[string]struct{}
	deleted  bool
}

// MemoryLinkRepository хранилище в памяти, используется при STORAGE_DRIVER=memory и в тестах
type MemoryLinkRepository struct {
	mu     sync.RWMutex
	byID   map[string]*memoryEntry
	active map[string]string // short code -> id, только активные ссылки
	now    func() time.Time
}

func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{
		byID:   make(map[string]*memoryEntry),
		active: make(map[string]string),
		now:    time.Now,
	}
}

// snapshot копия ссылки без событий. Вызывается под e.mu.
func (e *memoryEntry) snapshot(withVisitors bool) *models.Link {
	link := e.link
	link.ClickEvents = nil
	link.VisitorIDs = nil
	if withVisitors {
		link.VisitorIDs = append([]string{}, e.link.VisitorIDs...)
	}
	if e.link.Metadata != nil {
		md := *e.link.Metadata
		link.Metadata = &md
	}
	return &link
}

func (r *MemoryLinkRepository) Create(_ context.Context, link *models.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if link.IsActive {
		if _, taken := r.active[link.ShortCode]; taken {
			return ErrCodeExists
		}
	}

	entry := &memoryEntry{link: *link, visitors: make(map[string]struct{})}
	entry.link.VisitorIDs = nil
	entry.link.ClickEvents = nil
	r.byID[link.ID] = entry
	if link.IsActive {
		r.active[link.ShortCode] = link.ID
	}
	return nil
}

func (r *MemoryLinkRepository) GetActiveByShortCode(_ context.Context, code string) (*models.Link, error) {
	r.mu.RLock()
	id, ok := r.active[code]
	entry := r.byID[id]
	r.mu.RUnlock()
	if !ok || entry == nil {
		return nil, ErrLinkNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted || !entry.link.Resolvable(r.now()) {
		return nil, ErrLinkNotFound
	}
	return entry.snapshot(false), nil
}

func (r *MemoryLinkRepository) ExistsActiveShortCode(_ context.Context, code, excludeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[code]
	return ok && id != excludeID, nil
}

// owned возвращает запись, если она принадлежит ownerID. Вызывается под r.mu.
func (r *MemoryLinkRepository) owned(id, ownerID string) (*memoryEntry, error) {
	entry, ok := r.byID[id]
	if !ok || entry.link.OwnerID != ownerID {
		return nil, ErrLinkNotFound
	}
	return entry, nil
}

func (r *MemoryLinkRepository) GetByID(_ context.Context, id, ownerID string) (*models.Link, error) {
	r.mu.RLock()
	entry, err := r.owned(id, ownerID)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(true), nil
}

func (r *MemoryLinkRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Link, error) {
	r.mu.RLock()
	var entries []*memoryEntry
	for _, entry := range r.byID {
		if entry.link.OwnerID == ownerID {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	links := make([]*models.Link, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		links = append(links, entry.snapshot(true))
		entry.mu.Unlock()
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

// mutate применяет fn к ссылке владельца под глобальной блокировкой на запись
func (r *MemoryLinkRepository) mutate(id, ownerID string, fn func(e *memoryEntry) error) (*models.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.owned(id, ownerID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry); err != nil {
		return nil, err
	}
	entry.link.UpdatedAt = r.now()
	return entry.snapshot(true), nil
}

func (r *MemoryLinkRepository) UpdateShortCode(_ context.Context, id, ownerID, code string) (*models.Link, error) {
	return r.mutate(id, ownerID, func(e *memoryEntry) error {
		if e.link.IsActive {
			if holder, taken := r.active[code]; taken && holder != id {
				return ErrCodeExists
			}
			delete(r.active, e.link.ShortCode)
			r.active[code] = id
		}
		e.link.ShortCode = code
		return nil
	})
}

func (r *MemoryLinkRepository) UpdateDestination(_ context.Context, id, ownerID, destination string) (*models.Link, error) {
	return r.mutate(id, ownerID, func(e *memoryEntry) error {
		e.link.DestinationURL = destination
		return nil
	})
}

func (r *MemoryLinkRepository) SetActive(_ context.Context, id, ownerID string, active bool) (*models.Link, error) {
	return r.mutate(id, ownerID, func(e *memoryEntry) error {
		code := e.link.ShortCode
		switch {
		case active && !e.link.IsActive:
			if holder, taken := r.active[code]; taken && holder != id {
				return ErrCodeExists
			}
			r.active[code] = id
		case !active && e.link.IsActive:
			if r.active[code] == id {
				delete(r.active, code)
			}
		}
		e.link.IsActive = active
		return nil
	})
}

func (r *MemoryLinkRepository) ToggleBookmark(_ context.Context, id, ownerID string) (*models.Link, error) {
	return r.mutate(id, ownerID, func(e *memoryEntry) error {
		e.link.IsBookmarked = !e.link.IsBookmarked
		return nil
	})
}

func (r *MemoryLinkRepository) Delete(_ context.Context, id, ownerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.owned(id, ownerID)
	if err != nil {
		return "", err
	}

	entry.mu.Lock()
	entry.deleted = true
	code := entry.link.ShortCode
	entry.mu.Unlock()

	delete(r.byID, id)
	if r.active[code] == id {
		delete(r.active, code)
	}
	return code, nil
}

func (r *MemoryLinkRepository) RecordClick(_ context.Context, linkID string, event models.ClickEvent, callerID string) error {
	r.mu.RLock()
	entry, ok := r.byID[linkID]
	r.mu.RUnlock()
	if !ok {
		return ErrLinkNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// ссылку могли удалить между поиском и блокировкой
	if entry.deleted {
		return ErrLinkNotFound
	}

	entry.link.ClickCount++
	entry.link.ClickEvents = append(entry.link.ClickEvents, event)
	if callerID != "" {
		if _, seen := entry.visitors[callerID]; !seen {
			entry.visitors[callerID] = struct{}{}
			entry.link.VisitorIDs = append(entry.link.VisitorIDs, callerID)
		}
	}
	entry.link.UpdatedAt = r.now()
	return nil
}

func (r *MemoryLinkRepository) ListClickEvents(_ context.Context, linkID string, limit int) ([]models.ClickEvent, error) {
	r.mu.RLock()
	entry, ok := r.byID[linkID]
	r.mu.RUnlock()
	if !ok {
		return []models.ClickEvent{}, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	events := entry.link.ClickEvents
	out := make([]models.ClickEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}
