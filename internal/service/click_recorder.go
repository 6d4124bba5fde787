package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink-analytics/internal/clientinfo"
	"github.com/SergeiKhy/shortlink-analytics/internal/geo"
	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/SergeiKhy/shortlink-analytics/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Константы worker pool
const (
	defaultWorkerCount   = 3    // Количество воркеров
	defaultChannelBuffer = 1000 // Размер буфера канала
	defaultRecordTimeout = 5 * time.Second
	defaultGeoTimeout    = 2 * time.Second
)

// ClickRequest всё, что нужно записать о клике. Заголовки запроса сведены
// к строкам при постановке в очередь, чтобы не держать сам запрос.
type ClickRequest struct {
	LinkID    string
	ShortCode string
	UserAgent string
	ClientIP  string
	CallerID  string
}

// ClickRecorder асинхронная запись кликов
type ClickRecorder interface {
	Start()
	// Stop прекращает приём, дожидается обработки очереди или отмены ctx
	Stop(ctx context.Context) error
	// Record ставит клик в очередь и никогда не блокирует; при полной очереди клик теряется
	Record(req ClickRequest)
	Stats() ChannelStats
}

type ClickRecorderConfig struct {
	Workers       int
	Buffer        int
	RecordTimeout time.Duration
	GeoTimeout    time.Duration
}

// clickRecorder реализация на worker pool
type clickRecorder struct {
	store   repository.LinkRepository
	geo     geo.Resolver
	cfg     ClickRecorderConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	queue  chan ClickRequest
	mu     sync.RWMutex // защищает closed и закрытие queue
	closed bool
	once   sync.Once
	wg     sync.WaitGroup
}

// NewClickRecorder создаёт новый экземпляр процессора кликов. geoResolver может быть nil,
// тогда страна публичных адресов всегда "Unknown".
func NewClickRecorder(
	store repository.LinkRepository,
	geoResolver geo.Resolver,
	cfg ClickRecorderConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) ClickRecorder {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultChannelBuffer
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = defaultGeoTimeout
	}

	return &clickRecorder{
		store:   store,
		geo:     geoResolver,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan ClickRequest, cfg.Buffer),
	}
}

// Start запускает worker pool
func (r *clickRecorder) Start() {
	r.once.Do(func() {
		r.logger.Info("Запуск воркеров записи кликов", zap.Int("count", r.cfg.Workers))

		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(i)
		}
	})
}

// Stop корректно останавливает worker pool
func (r *clickRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	r.logger.Info("Остановка процессора кликов...", zap.Int("pending", len(r.queue)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Процессор кликов остановлен")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Процессор кликов остановлен до обработки очереди", zap.Int("pending", len(r.queue)))
		return ctx.Err()
	}
}

// Record отправляет событие клика в worker pool (неблокирующая операция)
func (r *clickRecorder) Record(req ClickRequest) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(req, "recorder stopped")
		return
	}

	select {
	case r.queue <- req:
		r.metrics.SetClickQueueDepth(len(r.queue))
	default:
		// Канал заполнен: теряем статистику, но не задерживаем редирект
		r.drop(req, "queue full")
	}
}

func (r *clickRecorder) drop(req ClickRequest, reason string) {
	r.metrics.ObserveClick("dropped", 0)
	r.logger.Warn("Событие клика потеряно",
		zap.String("reason", reason),
		zap.String("link_id", req.LinkID),
		zap.String("short_code", req.ShortCode),
	)
}

// worker обрабатывает события кликов из канала до его закрытия
func (r *clickRecorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("Воркер кликов запущен", zap.Int("id", id))
	for req := range r.queue {
		r.metrics.SetClickQueueDepth(len(r.queue))
		r.process(req)
	}
	r.logger.Debug("Воркер кликов остановлен", zap.Int("id", id))
}

// process обогащает и сохраняет один клик. Ошибки логируются, повторов нет.
func (r *clickRecorder) process(req ClickRequest) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.ObserveClick("failed", time.Since(start).Seconds())
			r.logger.Error("Паника при записи клика",
				zap.String("link_id", req.LinkID),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()

	// контекст не связан с HTTP-запросом: редирект уже отдан
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RecordTimeout)
	defer cancel()

	event := r.buildEvent(ctx, req)

	if err := r.store.RecordClick(ctx, req.LinkID, event, req.CallerID); err != nil {
		r.metrics.ObserveClick("failed", time.Since(start).Seconds())
		r.logger.Error("Не удалось записать клик",
			zap.String("link_id", req.LinkID),
			zap.String("short_code", req.ShortCode),
			zap.Error(err),
		)
		return
	}

	r.metrics.ObserveClick("recorded", time.Since(start).Seconds())
}

// buildEvent разбор User-Agent и геолокация выполняются параллельно
func (r *clickRecorder) buildEvent(ctx context.Context, req ClickRequest) models.ClickEvent {
	var (
		info    clientinfo.DeviceInfo
		country string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info = clientinfo.Classify(req.UserAgent)
		return nil
	})
	g.Go(func() error {
		country = geo.CountryFor(gctx, r.geo, req.ClientIP, r.cfg.GeoTimeout)
		return nil
	})
	_ = g.Wait()

	visitor := req.ClientIP
	if visitor == "" {
		visitor = clientinfo.UnknownIP
	}

	return models.ClickEvent{
		Timestamp: r.now(),
		VisitorID: visitor,
		Device:    info.Device,
		Browser:   info.Browser,
		OS:        info.OS,
		Country:   country,
	}
}

// Stats возвращает статистику канала для мониторинга
func (r *clickRecorder) Stats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(r.queue),
		BufferUsed:  len(r.queue),
		WorkerCount: r.cfg.Workers,
	}
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int `json:"buffer_size"`  // Общая ёмкость канала
	BufferUsed  int `json:"buffer_used"`  // Текущее использование
	WorkerCount int `json:"worker_count"` // Количество воркеров
}
