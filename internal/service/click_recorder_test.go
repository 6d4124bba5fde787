package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/SergeiKhy/shortlink-analytics/internal/service"
	"github.com/SergeiKhy/shortlink-analytics/internal/service/mocks"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func seedLink(t *testing.T, repo *mocks.MockLinkRepository, code string) *models.Link {
	t.Helper()
	svc := service.NewLinkService(repo, nil, service.LinkServiceConfig{}, zap.NewNop())
	link, err := svc.CreateLink(context.Background(), &models.CreateLinkInput{
		OwnerID:        alice,
		DestinationURL: "https://example.com/" + code,
		ShortCode:      code,
	})
	require.NoError(t, err)
	return link
}

func stopRecorder(t *testing.T, rec service.ClickRecorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Stop(ctx))
}

func TestClickRecorder_RecordsEnrichedEvent(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "enrich")
	geoResolver := &mocks.MockGeoResolver{Country: "Germany"}

	rec := service.NewClickRecorder(repo, geoResolver, service.ClickRecorderConfig{Workers: 1}, nil, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{
		LinkID:    link.ID,
		ShortCode: link.ShortCode,
		UserAgent: iphoneUA,
		ClientIP:  "8.8.8.8",
		CallerID:  bob,
	})
	stopRecorder(t, rec)

	got, err := repo.GetByID(context.Background(), link.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ClickCount)
	assert.Equal(t, []string{bob}, got.VisitorIDs)

	events, err := repo.ListClickEvents(context.Background(), link.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "8.8.8.8", events[0].VisitorID)
	assert.Equal(t, "Germany", events[0].Country)
	assert.Equal(t, models.DeviceMobile, events[0].Device)
	assert.NotNil(t, events[0].Browser)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestClickRecorder_AnonymousAndLocal(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "local")
	geoResolver := &mocks.MockGeoResolver{Country: "Germany"}

	rec := service.NewClickRecorder(repo, geoResolver, service.ClickRecorderConfig{Workers: 1}, nil, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "127.0.0.1"})
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: ""})
	stopRecorder(t, rec)

	// локальные и неизвестные адреса не уходят в геосервис
	assert.Equal(t, 0, geoResolver.Calls())

	got, err := repo.GetByID(context.Background(), link.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ClickCount)
	assert.Empty(t, got.VisitorIDs)

	events, err := repo.ListClickEvents(context.Background(), link.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	countries := []string{events[0].Country, events[1].Country}
	assert.ElementsMatch(t, []string{models.CountryLocal, models.CountryUnknown}, countries)
	for _, e := range events {
		assert.Equal(t, models.DeviceDesktop, e.Device)
		assert.Nil(t, e.Browser)
		assert.Nil(t, e.OS)
	}
}

func TestClickRecorder_GeoFailureFallsBackToUnknown(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "geofail")
	geoResolver := &mocks.MockGeoResolver{Err: errors.New("ip-api down")}

	rec := service.NewClickRecorder(repo, geoResolver, service.ClickRecorderConfig{Workers: 1}, nil, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "8.8.4.4"})
	stopRecorder(t, rec)

	events, err := repo.ListClickEvents(context.Background(), link.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.CountryUnknown, events[0].Country)
	assert.Equal(t, 1, geoResolver.Calls())
}

func TestClickRecorder_ConcurrentClicksAllCounted(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "popular")

	const clicks = 200
	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{Workers: 8, Buffer: clicks}, nil, zap.NewNop())
	rec.Start()

	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9", CallerID: bob})
		}()
	}
	wg.Wait()
	stopRecorder(t, rec)

	got, err := repo.GetByID(context.Background(), link.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(clicks), got.ClickCount)
	assert.Equal(t, []string{bob}, got.VisitorIDs)

	events, err := repo.ListClickEvents(context.Background(), link.ID, 1000)
	require.NoError(t, err)
	assert.Len(t, events, clicks)
}

func TestClickRecorder_DropsWhenQueueFull(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "busy")
	release := repo.BlockRecordClick()
	defer release()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{
		Workers:       1,
		Buffer:        1,
		RecordTimeout: 10 * time.Second,
	}, m, zap.NewNop())
	rec.Start()

	req := service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"}

	// первый клик занимает воркер
	rec.Record(req)
	require.Eventually(t, func() bool { return repo.RecordClickCalls() == 1 }, 2*time.Second, 5*time.Millisecond)

	// второй ждёт в буфере, остальные теряются без ожидания
	start := time.Now()
	for i := 0; i < 5; i++ {
		rec.Record(req)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ClickEventsTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1, rec.Stats().BufferUsed)

	release()
	stopRecorder(t, rec)

	assert.Equal(t, 2, repo.RecordedClicks())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ClickEventsTotal.WithLabelValues("recorded")))
}

func TestClickRecorder_StoreFailureIsNotRetried(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "flaky")
	repo.FailRecordClick(errors.New("connection reset"))

	m := metrics.NewMetrics(prometheus.NewRegistry())
	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{Workers: 2}, m, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"})
	stopRecorder(t, rec)

	assert.Equal(t, 1, repo.RecordClickCalls())
	assert.Equal(t, 0, repo.RecordedClicks())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClickEventsTotal.WithLabelValues("failed")))

	got, err := repo.GetByID(context.Background(), link.ID, alice)
	require.NoError(t, err)
	assert.Zero(t, got.ClickCount)
}

func TestClickRecorder_DeletedLinkIsSkipped(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "gone")
	_, err := repo.Delete(context.Background(), link.ID, alice)
	require.NoError(t, err)

	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{Workers: 1}, nil, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"})
	stopRecorder(t, rec)

	assert.Equal(t, 1, repo.RecordClickCalls())
	assert.Equal(t, 0, repo.RecordedClicks())
}

func TestClickRecorder_StopDrainsQueue(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "drain")

	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{Workers: 1, Buffer: 10}, nil, zap.NewNop())
	// клики ставятся в очередь до запуска воркеров
	for i := 0; i < 5; i++ {
		rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"})
	}
	assert.Equal(t, 5, rec.Stats().BufferUsed)

	rec.Start()
	stopRecorder(t, rec)
	assert.Equal(t, 5, repo.RecordedClicks())

	// после остановки клики отбрасываются, повторная остановка безопасна
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"})
	stopRecorder(t, rec)
	assert.Equal(t, 5, repo.RecordedClicks())
}

func TestClickRecorder_StopRespectsDeadline(t *testing.T) {
	repo := mocks.NewMockLinkRepository()
	link := seedLink(t, repo, "stuck")
	release := repo.BlockRecordClick()
	defer release()

	rec := service.NewClickRecorder(repo, nil, service.ClickRecorderConfig{
		Workers:       1,
		RecordTimeout: 10 * time.Second,
	}, nil, zap.NewNop())
	rec.Start()
	rec.Record(service.ClickRequest{LinkID: link.ID, ClientIP: "203.0.113.9"})
	require.Eventually(t, func() bool { return repo.RecordClickCalls() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rec.Stop(ctx), context.DeadlineExceeded)
}
