package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/geo"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/SergeiKhy/shortlink-analytics/internal/repository"
	"github.com/SergeiKhy/shortlink-analytics/internal/service"
)

// MockLinkRepository хранилище в памяти с внедрением ошибок и задержек
type MockLinkRepository struct {
	*repository.MemoryLinkRepository

	mu             sync.Mutex
	lookupErr      error
	recordErr      error
	recordGate     chan struct{}
	lookupPause    *pause
	lookupCalls    int
	recordCalls    int
	recordedClicks int
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{MemoryLinkRepository: repository.NewMemoryLinkRepository()}
}

// FailLookups все поиски по коду возвращают err (nil снимает сбой)
func (m *MockLinkRepository) FailLookups(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupErr = err
}

// FailRecordClick все записи кликов возвращают err (nil снимает сбой)
func (m *MockLinkRepository) FailRecordClick(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordErr = err
}

// BlockRecordClick задерживает запись кликов до вызова возвращённой функции
func (m *MockLinkRepository) BlockRecordClick() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.recordGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

type pause struct {
	reached chan struct{}
	resume  chan struct{}
}

// PauseNextLookup останавливает следующий поиск по коду после чтения из хранилища.
// reached закрывается, когда поиск прочитал ссылку; resume отпускает его.
func (m *MockLinkRepository) PauseNextLookup() (reached <-chan struct{}, resume func()) {
	p := &pause{reached: make(chan struct{}), resume: make(chan struct{})}
	m.mu.Lock()
	m.lookupPause = p
	m.mu.Unlock()

	var once sync.Once
	return p.reached, func() { once.Do(func() { close(p.resume) }) }
}

func (m *MockLinkRepository) GetActiveByShortCode(ctx context.Context, code string) (*models.Link, error) {
	m.mu.Lock()
	m.lookupCalls++
	err := m.lookupErr
	p := m.lookupPause
	m.lookupPause = nil
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	link, err := m.MemoryLinkRepository.GetActiveByShortCode(ctx, code)
	if p != nil {
		close(p.reached)
		select {
		case <-p.resume:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return link, err
}

func (m *MockLinkRepository) RecordClick(ctx context.Context, linkID string, event models.ClickEvent, callerID string) error {
	m.mu.Lock()
	m.recordCalls++
	err := m.recordErr
	gate := m.recordGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	if err := m.MemoryLinkRepository.RecordClick(ctx, linkID, event, callerID); err != nil {
		return err
	}
	m.mu.Lock()
	m.recordedClicks++
	m.mu.Unlock()
	return nil
}

func (m *MockLinkRepository) LookupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupCalls
}

func (m *MockLinkRepository) RecordClickCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordCalls
}

func (m *MockLinkRepository) RecordedClicks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordedClicks
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu       sync.RWMutex
	cache    map[string]*models.Link
	ttls     map[string]time.Duration
	versions map[string]int64
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache:    make(map[string]*models.Link),
		ttls:     make(map[string]time.Duration),
		versions: make(map[string]int64),
	}
}

func (m *MockCacheRepository) Version(_ context.Context, code string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[code], nil
}

func (m *MockCacheRepository) Get(_ context.Context, code string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[code]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	cp := *link
	return &cp, nil
}

func (m *MockCacheRepository) Set(_ context.Context, code string, link *models.Link, ttl time.Duration, version int64) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[code] != version {
		return nil
	}
	cp := *link
	m.cache[code] = &cp
	m.ttls[code] = ttl
	return nil
}

func (m *MockCacheRepository) Delete(_ context.Context, codes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		delete(m.cache, code)
		delete(m.ttls, code)
		m.versions[code]++
	}
	return nil
}

// Has есть ли код в кэше
func (m *MockCacheRepository) Has(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cache[code]
	return ok
}

func (m *MockCacheRepository) TTL(code string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ttls[code]
}

// MockGeoResolver отвечает заранее заданной страной и считает вызовы
type MockGeoResolver struct {
	mu      sync.Mutex
	Country string
	Err     error
	Delay   time.Duration
	calls   int
}

var _ geo.Resolver = (*MockGeoResolver)(nil)

func (m *MockGeoResolver) Lookup(ctx context.Context, _ string) (geo.Result, error) {
	m.mu.Lock()
	m.calls++
	country, err, delay := m.Country, m.Err, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return geo.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return geo.Result{}, err
	}
	return geo.Result{Country: country, Success: country != ""}, nil
}

func (m *MockGeoResolver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockClickRecorder запоминает поставленные в очередь клики
type MockClickRecorder struct {
	mu       sync.Mutex
	requests []service.ClickRequest
}

var _ service.ClickRecorder = (*MockClickRecorder)(nil)

func (m *MockClickRecorder) Start() {}

func (m *MockClickRecorder) Stop(context.Context) error { return nil }

func (m *MockClickRecorder) Record(req service.ClickRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *MockClickRecorder) Stats() service.ChannelStats {
	return service.ChannelStats{}
}

func (m *MockClickRecorder) Requests() []service.ClickRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.ClickRequest{}, m.requests...)
}

// StubEnricher возвращает фиксированные метаданные или ошибку
type StubEnricher struct {
	Metadata *models.LinkMetadata
	Err      error
}

func (s StubEnricher) Enrich(context.Context, string) (*models.LinkMetadata, error) {
	return s.Metadata, s.Err
}
