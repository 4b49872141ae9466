package service

import (
	"context"
	"fmt"
	"strconv"

	"sales-analytics/internal/analytics"
	"sales-analytics/internal/models"
	"sales-analytics/internal/util"
)

// topPerCurve is how many leading items of each curve an ABC report lists.
const topPerCurve = 10

// RFMReport is the scored customer base with its segment breakdown.
type RFMReport struct {
	ReportMeta
	Customers []models.ScoredCustomer    `json:"customers"`
	Segments  []analytics.SegmentSummary `json:"segments"`
	Heatmap   analytics.Heatmap          `json:"heatmap"`
}

// HeatmapReport is the R x F customer count matrix.
type HeatmapReport struct {
	ReportMeta
	Heatmap analytics.Heatmap `json:"heatmap"`
}

// CustomerList is a filtered slice of the scored customer base.
type CustomerList struct {
	ReportMeta
	Customers []models.ScoredCustomer `json:"customers"`
}

// ABCReport is a Pareto classification with per-curve summaries.
type ABCReport struct {
	ReportMeta
	Items       []models.ABCItem            `json:"items"`
	Curves      []analytics.CurveSummary    `json:"curves"`
	Top         map[string][]models.ABCItem `json:"top"`
	GroupShares []analytics.GroupShare      `json:"group_shares,omitempty"`
	Labels      map[string]string           `json:"labels,omitempty"`
	Total       float64                     `json:"total"`
}

// StockReport is the turnover and coverage analysis of current stock.
type StockReport struct {
	ReportMeta
	PeriodDays       int                       `json:"period_days"`
	Items            []analytics.StockItem     `json:"items"`
	Matrix           map[string]map[string]int `json:"matrix"`
	Critical         []analytics.StockItem     `json:"critical"`
	LowCoverage      []analytics.StockItem     `json:"low_coverage"`
	ExcessCoverage   []analytics.StockItem     `json:"excess_coverage"`
	CoverageOutliers []analytics.StockItem     `json:"coverage_outliers"`
	TurnoverOutliers []analytics.StockItem     `json:"turnover_outliers"`
	MeanTurnover     float64                   `json:"mean_turnover"`
	MedianCoverage   float64                   `json:"median_coverage"`

	// Outlier-free statistics.
	TrimmedMeanTurnover   float64 `json:"trimmed_mean_turnover"`
	TrimmedMedianCoverage float64 `json:"trimmed_median_coverage"`
	OutOfStock            int     `json:"out_of_stock"`
}

// RFMReport scores every customer in the filter window.
func (s *ReportService) RFMReport(ctx context.Context, f models.ReportFilter) (*RFMReport, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.RFMReport")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	r, j := s.rfmJob(f)
	if err := s.serve(ctx, j); err != nil {
		return nil, err
	}
	return r, nil
}

// RFMHeatmap returns the R x F matrix of the RFM report.
func (s *ReportService) RFMHeatmap(ctx context.Context, f models.ReportFilter) (*HeatmapReport, error) {
	r, err := s.RFMReport(ctx, f)
	if err != nil {
		return nil, err
	}
	return &HeatmapReport{ReportMeta: r.ReportMeta, Heatmap: r.Heatmap}, nil
}

// SegmentCustomers lists the scored customers in the given segments. No
// segments means every customer.
func (s *ReportService) SegmentCustomers(ctx context.Context, f models.ReportFilter, segments ...string) (*CustomerList, error) {
	for _, seg := range segments {
		if !knownSegment(seg) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSegment, seg)
		}
	}
	r, err := s.RFMReport(ctx, f)
	if err != nil {
		return nil, err
	}
	return customerList(r, analytics.FilterBySegment(r.Customers, segments...)), nil
}

// RecencyCustomers lists the scored customers whose whole months since the
// last purchase are listed. analytics.RecencyOver6 selects everything older
// than six months.
func (s *ReportService) RecencyCustomers(ctx context.Context, f models.ReportFilter, months ...int) (*CustomerList, error) {
	r, err := s.RFMReport(ctx, f)
	if err != nil {
		return nil, err
	}
	return customerList(r, analytics.FilterByRecency(r.Customers, months...)), nil
}

// ProductABCReport classifies SKUs by net revenue, grouped by brand.
func (s *ReportService) ProductABCReport(ctx context.Context, f models.ReportFilter) (*ABCReport, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.ProductABCReport")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	r, j := s.productABCJob(f)
	if err := s.serve(ctx, j); err != nil {
		return nil, err
	}
	return r, nil
}

// CustomerABCReport classifies customers by net revenue.
func (s *ReportService) CustomerABCReport(ctx context.Context, f models.ReportFilter) (*ABCReport, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.CustomerABCReport")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	r, j := s.customerABCJob(f)
	if err := s.serve(ctx, j); err != nil {
		return nil, err
	}
	return r, nil
}

// StockReport analyses stock turnover over periodDays ending at the filter
// end date. Zero selects the configured default period.
func (s *ReportService) StockReport(ctx context.Context, f models.ReportFilter, periodDays int) (*StockReport, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.StockReport")
	defer span.End()

	f, err := s.prepare(f)
	if err != nil {
		return nil, err
	}
	if periodDays, err = s.periodDays(periodDays); err != nil {
		return nil, err
	}
	r, j := s.stockJob(f, periodDays)
	if err := s.serve(ctx, j); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ReportService) rfmJob(f models.ReportFilter) (*RFMReport, *job) {
	r := &RFMReport{}
	return r, &job{
		kind:   models.ReportKindRFM,
		filter: f,
		dest:   r,
		build: func(ctx context.Context) error {
			rows, err := s.warehouse.CustomerRFM(ctx, f)
			if err != nil {
				return err
			}
			res := analytics.ScoreRFM(rows)
			r.Customers = res.Customers
			r.Segments = analytics.SummarizeSegments(res.Customers)
			r.Heatmap = analytics.BuildHeatmap(res.Customers)
			r.Rows = len(res.Customers)
			r.Skipped = res.SkipReport()
			return nil
		},
	}
}

func (s *ReportService) productABCJob(f models.ReportFilter) (*ABCReport, *job) {
	r := &ABCReport{}
	return r, &job{
		kind:   models.ReportKindProductABC,
		filter: f,
		dest:   r,
		build: func(ctx context.Context) error {
			rows, err := s.warehouse.ProductRevenue(ctx, f)
			if err != nil {
				return err
			}
			inputs := make([]models.ABCInput, len(rows))
			labels := make(map[string]string, len(rows))
			for i, p := range rows {
				inputs[i] = models.ABCInput{EntityID: p.SKU, Group: p.Brand, MetricValue: p.NetRevenue}
				if p.ProductName != "" {
					labels[p.SKU] = p.ProductName
				}
			}
			fillABC(r, analytics.ClassifyABC(inputs), labels)
			r.GroupShares = analytics.GroupShareByCurve(r.Items)
			return nil
		},
	}
}

func (s *ReportService) customerABCJob(f models.ReportFilter) (*ABCReport, *job) {
	r := &ABCReport{}
	return r, &job{
		kind:   models.ReportKindCustomerABC,
		filter: f,
		dest:   r,
		build: func(ctx context.Context) error {
			rows, err := s.warehouse.CustomerRevenue(ctx, f)
			if err != nil {
				return err
			}
			inputs := make([]models.ABCInput, len(rows))
			labels := make(map[string]string, len(rows))
			for i, c := range rows {
				inputs[i] = models.ABCInput{EntityID: c.CustomerID, MetricValue: c.NetRevenue}
				if c.CustomerName != "" {
					labels[c.CustomerID] = c.CustomerName
				}
			}
			fillABC(r, analytics.ClassifyABC(inputs), labels)
			return nil
		},
	}
}

func (s *ReportService) stockJob(f models.ReportFilter, periodDays int) (*StockReport, *job) {
	r := &StockReport{PeriodDays: periodDays}
	return r, &job{
		kind:   models.ReportKindStock,
		filter: f,
		params: []string{strconv.Itoa(periodDays)},
		dest:   r,
		build: func(ctx context.Context) error {
			rows, err := s.warehouse.StockPositions(ctx, f, periodDays)
			if err != nil {
				return err
			}
			res, err := analytics.AnalyzeStock(rows, periodDays)
			if err != nil {
				return err
			}
			r.Items = res.Items
			r.Matrix = res.Matrix
			r.Critical = res.Critical
			r.LowCoverage = res.LowCoverage
			r.ExcessCoverage = res.ExcessCoverage
			r.CoverageOutliers = res.CoverageOutlier
			r.TurnoverOutliers = res.TurnoverOutlier
			r.MeanTurnover = res.MeanTurnover
			r.MedianCoverage = res.MedianCoverage
			r.TrimmedMeanTurnover = res.TrimmedMeanTurnover
			r.TrimmedMedianCoverage = res.TrimmedMedianCoverage
			r.OutOfStock = res.OutOfStock
			r.DegenerateTotal = res.DegenerateTotal
			r.Rows = len(res.Items)
			r.Skipped = res.SkipReport()
			return nil
		},
	}
}

func fillABC(r *ABCReport, res *analytics.ABCResult, labels map[string]string) {
	r.Items = res.Items
	r.Curves = analytics.SummarizeCurves(res.Items)
	r.Top = analytics.TopPerCurve(res.Items, topPerCurve)
	r.Labels = labels
	r.Total = res.Total
	r.DegenerateTotal = res.DegenerateTotal
	r.Rows = len(res.Items)
	r.Skipped = res.SkipReport()
}

func customerList(r *RFMReport, customers []models.ScoredCustomer) *CustomerList {
	list := &CustomerList{ReportMeta: r.ReportMeta, Customers: customers}
	list.Rows = len(customers)
	return list
}

func knownSegment(seg string) bool {
	for _, s := range analytics.Segments {
		if s == seg {
			return true
		}
	}
	return false
}
