package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sales-analytics/config"
	"sales-analytics/internal/analytics"
	"sales-analytics/internal/models"
	"sales-analytics/internal/redisclient"
	"sales-analytics/internal/store"
	"sales-analytics/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownKind    = errors.New("unknown report kind")
	ErrUnknownSegment = errors.New("unknown segment")
)

// Warehouse supplies aggregated report inputs.
type Warehouse interface {
	CustomerRFM(ctx context.Context, f models.ReportFilter) ([]models.CustomerRFMRecord, error)
	ProductRevenue(ctx context.Context, f models.ReportFilter) ([]models.ProductRevenue, error)
	CustomerRevenue(ctx context.Context, f models.ReportFilter) ([]models.CustomerRevenue, error)
	StockPositions(ctx context.Context, f models.ReportFilter, periodDays int) ([]models.StockPosition, error)
	FilterOptions(ctx context.Context, f models.ReportFilter) (*models.FilterOptions, error)
}

// ReportCache stores computed reports and guards their recomputation.
type ReportCache interface {
	GetReport(ctx context.Context, key string, dest interface{}) (bool, error)
	SetReport(ctx context.Context, key string, report interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// EventPublisher emits report events.
type EventPublisher interface {
	PublishReportGenerated(ctx context.Context, event *models.ReportGeneratedEvent) error
	PublishReportRequested(ctx context.Context, event *models.ReportRequestedEvent) error
}

// ReportService computes sales reports from the warehouse and caches them.
type ReportService struct {
	warehouse Warehouse
	cache     ReportCache
	publisher EventPublisher
	cfg       config.ReportsConfig
	logger    *zap.Logger
	now       func() time.Time
	pollEvery time.Duration
}

// NewReportService creates a new report service. cache and publisher may be
// nil, in which case every request goes to the warehouse and no events are
// emitted.
func NewReportService(
	warehouse Warehouse,
	cache ReportCache,
	publisher EventPublisher,
	cfg config.ReportsConfig,
) *ReportService {
	return &ReportService{
		warehouse: warehouse,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
		pollEvery: 200 * time.Millisecond,
	}
}

// ReportMeta describes how a report was produced. Skipped and Warning let a
// client show partial results with a banner.
type ReportMeta struct {
	Kind            string               `json:"kind"`
	FilterKey       string               `json:"filter_key"`
	Filter          models.ReportFilter  `json:"filter"`
	GeneratedAt     time.Time            `json:"generated_at"`
	FromCache       bool                 `json:"from_cache"`
	Rows            int                  `json:"rows"`
	Skipped         analytics.SkipReport `json:"skipped"`
	Warning         string               `json:"warning,omitempty"`
	DegenerateTotal bool                 `json:"degenerate_total"`
}

func (m *ReportMeta) meta() *ReportMeta { return m }

type report interface {
	meta() *ReportMeta
}

// job is one report computation: what to build and where it is cached.
type job struct {
	kind   string
	filter models.ReportFilter
	params []string
	dest   report
	build  func(ctx context.Context) error
}

func (j *job) hash() string {
	return redisclient.FilterHash(j.filter, j.params...)
}

// prepare fills a missing date window from the default lookback and checks
// the result.
func (s *ReportService) prepare(f models.ReportFilter) (models.ReportFilter, error) {
	if f.EndDate.IsZero() {
		now := s.now().UTC()
		f.EndDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if f.StartDate.IsZero() {
		months := s.cfg.DefaultLookbackMonth
		if months <= 0 {
			months = 12
		}
		f.StartDate = f.EndDate.AddDate(0, -months, 1)
	}
	if err := store.ValidateFilter(f); err != nil {
		return f, err
	}
	return f, nil
}

// serve answers j from the cache when possible and computes it otherwise.
// Only one instance computes a given report at a time; the others wait up to
// LockWait for its result and then compute anyway.
func (s *ReportService) serve(ctx context.Context, j *job) error {
	hash := j.hash()
	key := redisclient.ReportKey(j.kind, hash)

	if s.lookup(ctx, j.kind, key, j.dest) {
		return nil
	}
	util.ReportCacheMissesTotal.WithLabelValues(j.kind).Inc()

	token, locked := s.acquire(ctx, key)
	if locked {
		defer s.release(key, token)
	} else if s.waitForCache(ctx, j.kind, key, j.dest) {
		return nil
	}

	return s.generate(ctx, j, hash, key)
}

// refresh recomputes j regardless of the cached copy. It is a no-op when
// another instance holds the lock.
func (s *ReportService) refresh(ctx context.Context, j *job) error {
	hash := j.hash()
	key := redisclient.ReportKey(j.kind, hash)

	token, locked := s.acquire(ctx, key)
	if !locked {
		s.logger.Info("Report already being computed, skipping refresh",
			zap.String("kind", j.kind),
			zap.String("filter_key", hash))
		return nil
	}
	defer s.release(key, token)

	return s.generate(ctx, j, hash, key)
}

func (s *ReportService) generate(ctx context.Context, j *job, hash, key string) error {
	ctx, span := util.StartSpan(ctx, "ReportService.generate")
	start := time.Now()

	err := j.build(ctx)
	util.EndSpan(span, err)
	if err != nil {
		util.ReportsFailedTotal.WithLabelValues(j.kind, failureReason(err)).Inc()
		return fmt.Errorf("failed to compute %s report: %w", j.kind, err)
	}
	elapsed := time.Since(start)

	m := j.dest.meta()
	m.Kind = j.kind
	m.FilterKey = hash
	m.Filter = j.filter
	m.GeneratedAt = s.now().UTC()
	m.FromCache = false
	if m.Skipped.Count > 0 {
		m.Warning = m.Skipped.String()
	}

	util.ReportsGeneratedTotal.WithLabelValues(j.kind).Inc()
	util.ReportComputeLatency.WithLabelValues(j.kind).Observe(elapsed.Seconds())
	if m.Skipped.Count > 0 {
		util.ReportRowsSkippedTotal.WithLabelValues(j.kind).Add(float64(m.Skipped.Count))
		s.logger.Warn("Rows skipped while computing report",
			zap.String("kind", j.kind),
			zap.String("filter_key", hash),
			zap.String("summary", m.Warning))
	}
	if m.DegenerateTotal {
		util.ReportDegenerateTotal.WithLabelValues(j.kind).Inc()
	}

	s.logger.Info("Report generated",
		zap.String("kind", j.kind),
		zap.String("filter_key", hash),
		zap.Int("rows", m.Rows),
		zap.Int("skipped", m.Skipped.Count),
		zap.Duration("duration", elapsed))

	if s.cache != nil {
		if err := s.cache.SetReport(ctx, key, j.dest, s.cfg.CacheTTL); err != nil {
			s.logger.Error("Failed to cache report", zap.String("key", key), zap.Error(err))
		}
	}

	if s.publisher != nil {
		event := &models.ReportGeneratedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeReportGenerated,
				Timestamp: m.GeneratedAt,
			},
			Kind:            j.kind,
			FilterKey:       hash,
			Rows:            m.Rows,
			Skipped:         m.Skipped.Count,
			DegenerateTotal: m.DegenerateTotal,
			DurationMillis:  elapsed.Milliseconds(),
		}
		if err := s.publisher.PublishReportGenerated(ctx, event); err != nil {
			s.logger.Error("Failed to publish ReportGenerated event", zap.Error(err))
		}
	}

	return nil
}

func (s *ReportService) lookup(ctx context.Context, kind, key string, dest report) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.GetReport(ctx, key, dest)
	if err != nil {
		s.logger.Warn("Report cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	dest.meta().FromCache = true
	util.ReportCacheHitsTotal.WithLabelValues(kind).Inc()
	return true
}

// acquire takes the report lock. An empty token with ok set means there was
// no Redis to coordinate on.
func (s *ReportService) acquire(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", true
	}
	token, ok, err := s.cache.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("Failed to acquire report lock", zap.String("key", key), zap.Error(err))
		return "", true
	}
	return token, ok
}

func (s *ReportService) release(key, token string) {
	if s.cache == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.ReleaseLock(ctx, key, token); err != nil {
		s.logger.Warn("Failed to release report lock", zap.String("key", key), zap.Error(err))
	}
}

func (s *ReportService) waitForCache(ctx context.Context, kind, key string, dest report) bool {
	deadline := time.Now().Add(s.cfg.LockWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.pollEvery):
		}
		if s.lookup(ctx, kind, key, dest) {
			return true
		}
	}
	s.logger.Info("Gave up waiting for concurrent report computation", zap.String("key", key))
	return false
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidFilter):
		return "invalid_filter"
	case errors.Is(err, analytics.ErrInvalidPeriod):
		return "invalid_period"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "warehouse_error"
	}
}

// Refresh recomputes a report and overwrites its cached copy. periodDays only
// applies to stock reports.
func (s *ReportService) Refresh(ctx context.Context, kind string, f models.ReportFilter, periodDays int) error {
	ctx, span := util.StartSpan(ctx, "ReportService.Refresh")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return err
	}

	var j *job
	switch kind {
	case models.ReportKindRFM:
		_, j = s.rfmJob(f)
	case models.ReportKindProductABC:
		_, j = s.productABCJob(f)
	case models.ReportKindCustomerABC:
		_, j = s.customerABCJob(f)
	case models.ReportKindStock:
		periodDays, err = s.periodDays(periodDays)
		if err != nil {
			return err
		}
		_, j = s.stockJob(f, periodDays)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s.refresh(ctx, j)
}

// RequestRefresh enqueues a refresh for a worker to pick up.
func (s *ReportService) RequestRefresh(ctx context.Context, kind string, f models.ReportFilter, periodDays int) (*models.ReportRequestedEvent, error) {
	if !models.ValidReportKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if s.publisher == nil {
		return nil, errors.New("no event publisher configured")
	}
	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	if kind == models.ReportKindStock {
		if periodDays, err = s.periodDays(periodDays); err != nil {
			return nil, err
		}
	}

	event := &models.ReportRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReportRequested,
			Timestamp: s.now().UTC(),
		},
		Kind:       kind,
		Filter:     f,
		PeriodDays: periodDays,
	}
	if err := s.publisher.PublishReportRequested(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to publish ReportRequested event: %w", err)
	}
	s.logger.Info("Report refresh requested", zap.String("kind", kind), zap.String("event_id", event.EventID))
	return event, nil
}

// HandleReportRequested refreshes the report named by a ReportRequested event.
func (s *ReportService) HandleReportRequested(ctx context.Context, event *models.ReportRequestedEvent) error {
	err := s.Refresh(ctx, event.Kind, event.Filter, event.PeriodDays)
	status := "ok"
	if err != nil {
		status = "error"
	}
	util.ReportRequestsConsumedTotal.WithLabelValues(event.Kind, status).Inc()
	return err
}

// FilterOptions lists the values available for each filter dimension.
func (s *ReportService) FilterOptions(ctx context.Context, f models.ReportFilter) (*models.FilterOptions, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.FilterOptions")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	opts, err := s.warehouse.FilterOptions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load filter options: %w", err)
	}
	return opts, nil
}

func (s *ReportService) periodDays(days int) (int, error) {
	if days == 0 {
		days = s.cfg.StockPeriodDays
	}
	if days <= 0 {
		return 0, fmt.Errorf("%w: got %d days", analytics.ErrInvalidPeriod, days)
	}
	return days, nil
}
