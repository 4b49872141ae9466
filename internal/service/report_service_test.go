package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sales-analytics/config"
	"sales-analytics/internal/analytics"
	"sales-analytics/internal/models"
	"sales-analytics/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWarehouse struct {
	mu        sync.Mutex
	calls     map[string]int
	rfm       []models.CustomerRFMRecord
	products  []models.ProductRevenue
	customers []models.CustomerRevenue
	stock     []models.StockPosition
	options   *models.FilterOptions
	err       error

	lastFilter models.ReportFilter
	lastPeriod int
	// onBuild runs inside CustomerRFM.
	onBuild func()
}

func (w *fakeWarehouse) record(name string, f models.ReportFilter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = make(map[string]int)
	}
	w.calls[name]++
	w.lastFilter = f
}

func (w *fakeWarehouse) count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[name]
}

func (w *fakeWarehouse) CustomerRFM(_ context.Context, f models.ReportFilter) ([]models.CustomerRFMRecord, error) {
	w.record("rfm", f)
	if w.onBuild != nil {
		w.onBuild()
	}
	return w.rfm, w.err
}

func (w *fakeWarehouse) ProductRevenue(_ context.Context, f models.ReportFilter) ([]models.ProductRevenue, error) {
	w.record("products", f)
	return w.products, w.err
}

func (w *fakeWarehouse) CustomerRevenue(_ context.Context, f models.ReportFilter) ([]models.CustomerRevenue, error) {
	w.record("customers", f)
	return w.customers, w.err
}

func (w *fakeWarehouse) StockPositions(_ context.Context, f models.ReportFilter, periodDays int) ([]models.StockPosition, error) {
	w.record("stock", f)
	w.lastPeriod = periodDays
	return w.stock, w.err
}

func (w *fakeWarehouse) FilterOptions(_ context.Context, f models.ReportFilter) (*models.FilterOptions, error) {
	w.record("options", f)
	return w.options, w.err
}

type fakeCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	locks    map[string]string
	issued   int
	getErr   error
	lockHeld bool

	// late is served from the second read on, as if another instance
	// finished computing.
	late  []byte
	reads int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte), locks: make(map[string]string)}
}

func (c *fakeCache) GetReport(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.getErr != nil {
		return false, c.getErr
	}
	b, ok := c.data[key]
	if !ok && c.late != nil && c.reads > 1 {
		b, ok = c.late, true
	}
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *fakeCache) SetReport(_ context.Context, key string, report interface{}, _ time.Duration) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *fakeCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.locks[key]; taken || c.lockHeld {
		return "", false, nil
	}
	c.issued++
	token := fmt.Sprintf("token-%d", c.issued)
	c.locks[key] = token
	return token, true, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

// expireLocks hands every held lock to another holder, as if the TTL ran
// out and a second instance took it.
func (c *fakeCache) expireLocks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.locks {
		c.locks[key] = "other-instance"
	}
}

func (c *fakeCache) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

type fakePublisher struct {
	mu        sync.Mutex
	generated []*models.ReportGeneratedEvent
	requested []*models.ReportRequestedEvent
	err       error
}

func (p *fakePublisher) PublishReportGenerated(_ context.Context, e *models.ReportGeneratedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.generated = append(p.generated, e)
	return nil
}

func (p *fakePublisher) PublishReportRequested(_ context.Context, e *models.ReportRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.requested = append(p.requested, e)
	return nil
}

var testNow = time.Date(2024, 12, 31, 15, 4, 5, 0, time.UTC)

func testConfig() config.ReportsConfig {
	return config.ReportsConfig{
		CacheTTL:             time.Minute,
		LockTTL:              time.Minute,
		LockWait:             time.Second,
		StockPeriodDays:      90,
		DefaultLookbackMonth: 12,
	}
}

func newTestService(w Warehouse, c ReportCache, p EventPublisher) (*ReportService, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewReportService(w, c, p, testConfig())
	s.logger = zap.New(core)
	s.now = func() time.Time { return testNow }
	s.pollEvery = time.Millisecond
	return s, logs
}

func window() models.ReportFilter {
	return models.ReportFilter{
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func rfmRows() []models.CustomerRFMRecord {
	return []models.CustomerRFMRecord{
		{CustomerID: "c1", RecencyMonths: models.Float(0), FrequencyCount: models.Int(12), MonetaryTotal: models.Float(1000)},
		{CustomerID: "c2", RecencyMonths: models.Float(8), FrequencyCount: models.Int(1), MonetaryTotal: models.Float(10)},
		{CustomerID: "c3", RecencyMonths: models.Float(1), FrequencyCount: models.Int(3)},
	}
}

func TestRFMReport_ComputesThenCaches(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	c := newFakeCache()
	p := &fakePublisher{}
	s, _ := newTestService(w, c, p)
	ctx := context.Background()

	first, err := s.RFMReport(ctx, window())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, models.ReportKindRFM, first.Kind)
	assert.Equal(t, 2, first.Rows)
	require.Len(t, first.Customers, 2)
	assert.Equal(t, "c1", first.Customers[0].CustomerID)
	assert.Equal(t, analytics.SegmentChampions, first.Customers[0].Segment)
	assert.Equal(t, analytics.SegmentLost, first.Customers[1].Segment)
	assert.Equal(t, 1, first.Heatmap.Count(5, 5))
	assert.Equal(t, 1, first.Heatmap.Count(1, 1))
	assert.NotEmpty(t, first.Segments)

	assert.Equal(t, 1, first.Skipped.Count)
	assert.Equal(t, "1 rows skipped, reasons: monetary_total is missing (1)", first.Warning)

	require.Len(t, p.generated, 1)
	ev := p.generated[0]
	assert.Equal(t, models.EventTypeReportGenerated, ev.EventType)
	assert.Equal(t, first.FilterKey, ev.FilterKey)
	assert.Equal(t, 2, ev.Rows)
	assert.Equal(t, 1, ev.Skipped)
	assert.NotEmpty(t, ev.EventID)

	second, err := s.RFMReport(ctx, window())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.FilterKey, second.FilterKey)
	assert.Equal(t, first.Customers, second.Customers)
	assert.Equal(t, first.Skipped, second.Skipped)

	assert.Equal(t, 1, w.count("rfm"))
	assert.Len(t, p.generated, 1)
	assert.Zero(t, c.held())
}

func TestRFMReport_InvalidFilter(t *testing.T) {
	w := &fakeWarehouse{}
	s, _ := newTestService(w, newFakeCache(), nil)

	f := window()
	f.StartDate, f.EndDate = f.EndDate, f.StartDate

	_, err := s.RFMReport(context.Background(), f)
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
	assert.Zero(t, w.count("rfm"))
}

func TestRFMReport_DefaultWindow(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	s, _ := newTestService(w, nil, nil)

	r, err := s.RFMReport(context.Background(), models.ReportFilter{})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), w.lastFilter.EndDate)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.lastFilter.StartDate)
	assert.Equal(t, w.lastFilter.StartDate, r.Filter.StartDate)
}

func TestRFMReport_WithoutCacheOrPublisher(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	s, _ := newTestService(w, nil, nil)

	for i := 0; i < 2; i++ {
		r, err := s.RFMReport(context.Background(), window())
		require.NoError(t, err)
		assert.False(t, r.FromCache)
	}
	assert.Equal(t, 2, w.count("rfm"))
}

func TestRFMReport_CacheAndBrokerFailuresAreNotFatal(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	c := newFakeCache()
	c.getErr = errors.New("connection refused")
	p := &fakePublisher{err: errors.New("broker down")}
	s, logs := newTestService(w, c, p)

	r, err := s.RFMReport(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rows)

	assert.Equal(t, 1, logs.FilterMessage("Report cache read failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish ReportGenerated event").Len())
}

func TestRFMReport_WarehouseError(t *testing.T) {
	boom := errors.New("relation sales_lines does not exist")
	w := &fakeWarehouse{err: boom}
	c := newFakeCache()
	p := &fakePublisher{}
	s, _ := newTestService(w, c, p)

	_, err := s.RFMReport(context.Background(), window())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.data)
	assert.Empty(t, p.generated)
	assert.Zero(t, c.held())
}

func TestServe_WaitsForConcurrentComputation(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	c := newFakeCache()
	c.lockHeld = true

	done, err := json.Marshal(&RFMReport{ReportMeta: ReportMeta{Kind: models.ReportKindRFM, Rows: 7}})
	require.NoError(t, err)
	c.late = done

	s, _ := newTestService(w, c, nil)

	r, err := s.RFMReport(context.Background(), window())
	require.NoError(t, err)
	assert.True(t, r.FromCache)
	assert.Equal(t, 7, r.Rows)
	assert.Zero(t, w.count("rfm"))
}

func TestServe_KeepsLockTakenAfterExpiry(t *testing.T) {
	c := newFakeCache()
	w := &fakeWarehouse{rfm: rfmRows(), onBuild: c.expireLocks}
	s, _ := newTestService(w, c, nil)

	_, err := s.RFMReport(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, 1, c.held())
}

func TestServe_ComputesAfterLockWait(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	c := newFakeCache()
	c.lockHeld = true
	s, logs := newTestService(w, c, nil)
	s.cfg.LockWait = 10 * time.Millisecond

	r, err := s.RFMReport(context.Background(), window())
	require.NoError(t, err)
	assert.False(t, r.FromCache)
	assert.Equal(t, 1, w.count("rfm"))
	assert.Equal(t, 1, logs.FilterMessage("Gave up waiting for concurrent report computation").Len())
}

func TestSegmentCustomers(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	s, _ := newTestService(w, newFakeCache(), nil)
	ctx := context.Background()

	lost, err := s.SegmentCustomers(ctx, window(), analytics.SegmentLost)
	require.NoError(t, err)
	require.Len(t, lost.Customers, 1)
	assert.Equal(t, "c2", lost.Customers[0].CustomerID)
	assert.Equal(t, 1, lost.Rows)

	all, err := s.SegmentCustomers(ctx, window())
	require.NoError(t, err)
	assert.Len(t, all.Customers, 2)

	_, err = s.SegmentCustomers(ctx, window(), "Whales")
	assert.ErrorIs(t, err, ErrUnknownSegment)
}

func TestRecencyCustomers(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	s, _ := newTestService(w, newFakeCache(), nil)
	ctx := context.Background()

	recent, err := s.RecencyCustomers(ctx, window(), 0)
	require.NoError(t, err)
	require.Len(t, recent.Customers, 1)
	assert.Equal(t, "c1", recent.Customers[0].CustomerID)

	old, err := s.RecencyCustomers(ctx, window(), analytics.RecencyOver6)
	require.NoError(t, err)
	require.Len(t, old.Customers, 1)
	assert.Equal(t, "c2", old.Customers[0].CustomerID)

	// served from the cached RFM report
	assert.Equal(t, 1, w.count("rfm"))
}

func TestRFMHeatmap(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	s, _ := newTestService(w, nil, nil)

	h, err := s.RFMHeatmap(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, 2, h.Heatmap.Total)
	assert.Equal(t, 1, h.Heatmap.Count(5, 5))
}

func TestProductABCReport(t *testing.T) {
	w := &fakeWarehouse{products: []models.ProductRevenue{
		{SKU: "p1", ProductName: "Widget", Brand: "BrandX", NetRevenue: models.Float(700)},
		{SKU: "p2", Brand: "BrandY", NetRevenue: models.Float(150)},
		{SKU: "p3", Brand: "BrandY", NetRevenue: models.Float(150)},
		{SKU: "p4", Brand: "BrandX"},
	}}
	s, _ := newTestService(w, newFakeCache(), nil)

	r, err := s.ProductABCReport(context.Background(), window())
	require.NoError(t, err)

	require.Len(t, r.Items, 3)
	assert.Equal(t, "p1", r.Items[0].EntityID)
	assert.Equal(t, analytics.CurveA, r.Items[0].Curve)
	assert.Equal(t, 1000.0, r.Total)
	assert.Equal(t, "Widget", r.Labels["p1"])
	assert.Len(t, r.Curves, 3)
	assert.Len(t, r.Top[analytics.CurveA], 1)
	require.NotEmpty(t, r.GroupShares)
	assert.Equal(t, "BrandX", r.GroupShares[0].Group)
	assert.Equal(t, 100.0, r.GroupShares[0].Shares[analytics.CurveA])
	assert.Equal(t, 1, r.Skipped.Count)
	assert.False(t, r.DegenerateTotal)
}

func TestCustomerABCReport_Degenerate(t *testing.T) {
	w := &fakeWarehouse{customers: []models.CustomerRevenue{
		{CustomerID: "c1", NetRevenue: models.Float(0)},
		{CustomerID: "c2", NetRevenue: models.Float(0)},
	}}
	p := &fakePublisher{}
	s, _ := newTestService(w, newFakeCache(), p)

	r, err := s.CustomerABCReport(context.Background(), window())
	require.NoError(t, err)
	assert.True(t, r.DegenerateTotal)
	for _, it := range r.Items {
		assert.Equal(t, analytics.CurveC, it.Curve)
	}
	assert.Empty(t, r.GroupShares)
	require.Len(t, p.generated, 1)
	assert.True(t, p.generated[0].DegenerateTotal)
}

func TestStockReport(t *testing.T) {
	w := &fakeWarehouse{stock: []models.StockPosition{
		{SKU: "S1", Region: "N", Balance: 100, SoldQty: 10, StockValue: 9000},
		{SKU: "S2", Region: "N", Balance: 10, SoldQty: 100, StockValue: 1000},
		{SKU: "S3", Region: "N", Balance: 0, SoldQty: 5},
	}}
	c := newFakeCache()
	s, _ := newTestService(w, c, nil)
	ctx := context.Background()

	r, err := s.StockReport(ctx, window(), 0)
	require.NoError(t, err)
	assert.Equal(t, 90, r.PeriodDays)
	assert.Equal(t, 90, w.lastPeriod)
	assert.Len(t, r.Items, 2)
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, 1, r.OutOfStock)
	assert.Zero(t, r.Skipped.Count)

	other, err := s.StockReport(ctx, window(), 30)
	require.NoError(t, err)
	assert.False(t, other.FromCache)
	assert.NotEqual(t, r.FilterKey, other.FilterKey)
	assert.Equal(t, 2, w.count("stock"))

	_, err = s.StockReport(ctx, window(), -5)
	assert.ErrorIs(t, err, analytics.ErrInvalidPeriod)
}

func TestRefresh(t *testing.T) {
	w := &fakeWarehouse{rfm: rfmRows()}
	c := newFakeCache()
	s, _ := newTestService(w, c, nil)
	ctx := context.Background()

	_, err := s.RFMReport(ctx, window())
	require.NoError(t, err)

	require.NoError(t, s.Refresh(ctx, models.ReportKindRFM, window(), 0))
	assert.Equal(t, 2, w.count("rfm"))

	err = s.Refresh(ctx, "forecast", window(), 0)
	assert.ErrorIs(t, err, ErrUnknownKind)

	c.lockHeld = true
	require.NoError(t, s.Refresh(ctx, models.ReportKindRFM, window(), 0))
	assert.Equal(t, 2, w.count("rfm"))
}

func TestRequestRefresh(t *testing.T) {
	p := &fakePublisher{}
	s, _ := newTestService(&fakeWarehouse{}, nil, p)
	ctx := context.Background()

	ev, err := s.RequestRefresh(ctx, models.ReportKindStock, models.ReportFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, p.requested, 1)
	assert.Equal(t, models.EventTypeReportRequested, ev.EventType)
	assert.Equal(t, 90, ev.PeriodDays)
	assert.False(t, ev.Filter.StartDate.IsZero())

	_, err = s.RequestRefresh(ctx, "nope", window(), 0)
	assert.ErrorIs(t, err, ErrUnknownKind)

	noPub, _ := newTestService(&fakeWarehouse{}, nil, nil)
	_, err = noPub.RequestRefresh(ctx, models.ReportKindRFM, window(), 0)
	assert.Error(t, err)
}

func TestHandleReportRequested(t *testing.T) {
	w := &fakeWarehouse{products: []models.ProductRevenue{{SKU: "p1", NetRevenue: models.Float(5)}}}
	c := newFakeCache()
	s, _ := newTestService(w, c, nil)

	err := s.HandleReportRequested(context.Background(), &models.ReportRequestedEvent{
		Kind:   models.ReportKindProductABC,
		Filter: window(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, w.count("products"))
	assert.Len(t, c.data, 1)

	err = s.HandleReportRequested(context.Background(), &models.ReportRequestedEvent{Kind: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestFilterOptions(t *testing.T) {
	w := &fakeWarehouse{options: &models.FilterOptions{Channels: []string{"Retail"}}}
	s, _ := newTestService(w, nil, nil)

	opts, err := s.FilterOptions(context.Background(), window())
	require.NoError(t, err)
	assert.Equal(t, []string{"Retail"}, opts.Channels)

	w.err = errors.New("timeout")
	_, err = s.FilterOptions(context.Background(), window())
	assert.Error(t, err)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "invalid_filter", failureReason(store.ErrInvalidFilter))
	assert.Equal(t, "invalid_period", failureReason(analytics.ErrInvalidPeriod))
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "warehouse_error", failureReason(errors.New("x")))
}
