package analytics

import (
	"fmt"
	"math"
	"sort"

	"sales-analytics/internal/models"

	"gonum.org/v1/gonum/stat"
)

// Turnover limits
const (
	// MaxAnnualTurnover caps turnover at one full turn per week.
	MaxAnnualTurnover = 52.0
	// MaxCoverageDays caps coverage at five years; SKUs with no turnover get it.
	MaxCoverageDays = 365.0 * 5
	// CoverageThresholdDays separates low stock from excess stock.
	CoverageThresholdDays = 90.0
)

// Turnover classes
const (
	TurnoverHigh   = "High"
	TurnoverMedium = "Medium"
	TurnoverLow    = "Low"
)

// TurnoverClasses lists the classes from fastest to slowest.
var TurnoverClasses = []string{TurnoverHigh, TurnoverMedium, TurnoverLow}

// StockItem is a stock position with its turnover metrics and curve.
type StockItem struct {
	models.StockPosition
	AnnualTurnover  float64 `json:"annual_turnover"`
	CoverageDays    float64 `json:"coverage_days"`
	TurnoverClass   string  `json:"turnover_class"`
	Curve           string  `json:"curve"`
	CumulativeShare float64 `json:"cumulative_share"`
}

// StockResult is the output of AnalyzeStock.
type StockResult struct {
	Items []StockItem `json:"items"`

	// Matrix counts items per curve and turnover class.
	Matrix          map[string]map[string]int `json:"matrix"`
	Critical        []StockItem               `json:"critical"`
	LowCoverage     []StockItem               `json:"low_coverage"`
	ExcessCoverage  []StockItem               `json:"excess_coverage"`
	CoverageOutlier []StockItem               `json:"coverage_outliers"`
	TurnoverOutlier []StockItem               `json:"turnover_outliers"`
	MeanTurnover    float64                   `json:"mean_turnover"`
	MedianCoverage  float64                   `json:"median_coverage"`

	// The trimmed statistics leave out every coverage and turnover outlier.
	TrimmedMeanTurnover   float64 `json:"trimmed_mean_turnover"`
	TrimmedMedianCoverage float64 `json:"trimmed_median_coverage"`

	OutOfStock      int                `json:"out_of_stock"`
	DegenerateTotal bool               `json:"degenerate_total"`
	Skipped         []*ValidationError `json:"skipped,omitempty"`
}

// SkipReport summarises the rejected positions.
func (r *StockResult) SkipReport() SkipReport { return newSkipReport(r.Skipped) }

// AnnualTurnover annualises sales over stock for a period of periodDays.
func AnnualTurnover(p models.StockPosition, periodDays int) float64 {
	if p.Balance <= 0 || periodDays <= 0 {
		return 0
	}
	t := (p.SoldQty + p.BonusQty) / p.Balance * (365 / float64(periodDays))
	return math.Min(t, MaxAnnualTurnover)
}

// CoverageDays converts a turnover into days of stock on hand.
func CoverageDays(turnover float64) float64 {
	if turnover <= 0 {
		return MaxCoverageDays
	}
	return math.Min(365/turnover, MaxCoverageDays)
}

// ClassifyTurnover buckets an annual turnover.
func ClassifyTurnover(turnover float64) string {
	switch {
	case turnover > 4:
		return TurnoverHigh
	case turnover > 2:
		return TurnoverMedium
	default:
		return TurnoverLow
	}
}

// AnalyzeStock computes turnover and coverage per position, classifies the
// positions on an ABC curve of stock value and derives the critical, low and
// excess lists. Positions with nothing on hand are counted in OutOfStock and
// left out of everything else.
func AnalyzeStock(positions []models.StockPosition, periodDays int) (*StockResult, error) {
	if periodDays <= 0 {
		return nil, fmt.Errorf("period of %d days: %w", periodDays, ErrInvalidPeriod)
	}

	res := &StockResult{
		Items:  make([]StockItem, 0, len(positions)),
		Matrix: make(map[string]map[string]int, len(Curves)),
	}
	for _, c := range Curves {
		res.Matrix[c] = make(map[string]int, len(TurnoverClasses))
		for _, t := range TurnoverClasses {
			res.Matrix[c][t] = 0
		}
	}

	seen := make(map[stockID]bool, len(positions))
	valid := make(map[string]StockItem, len(positions))
	inputs := make([]models.ABCInput, 0, len(positions))
	for _, p := range positions {
		id := stockID{sku: p.SKU, region: p.Region}
		if verr := validateStock(p, id.String()); verr != nil {
			res.Skipped = append(res.Skipped, verr)
			continue
		}
		if seen[id] {
			res.Skipped = append(res.Skipped, &ValidationError{RecordID: id.String(), Field: "sku", Reason: "is duplicated"})
			continue
		}
		seen[id] = true
		if p.Balance == 0 {
			res.OutOfStock++
			continue
		}
		turnover := AnnualTurnover(p, periodDays)
		valid[id.key()] = StockItem{
			StockPosition:  p,
			AnnualTurnover: turnover,
			CoverageDays:   CoverageDays(turnover),
			TurnoverClass:  ClassifyTurnover(turnover),
		}
		inputs = append(inputs, models.ABCInput{EntityID: id.key(), Group: p.Brand, MetricValue: models.Float(p.StockValue)})
	}

	abc := ClassifyABC(inputs)
	res.DegenerateTotal = abc.DegenerateTotal

	turnovers := make([]float64, 0, len(abc.Items))
	coverages := make([]float64, 0, len(abc.Items))
	for _, ranked := range abc.Items {
		it := valid[ranked.EntityID]
		it.Curve = ranked.Curve
		it.CumulativeShare = ranked.CumulativeShare
		res.Items = append(res.Items, it)
		res.Matrix[it.Curve][it.TurnoverClass]++
		turnovers = append(turnovers, it.AnnualTurnover)
		coverages = append(coverages, it.CoverageDays)

		if it.Curve == CurveA && it.TurnoverClass == TurnoverLow {
			res.Critical = append(res.Critical, it)
		}
		if it.CoverageDays < CoverageThresholdDays {
			res.LowCoverage = append(res.LowCoverage, it)
		} else if it.CoverageDays > CoverageThresholdDays {
			res.ExcessCoverage = append(res.ExcessCoverage, it)
		}
	}

	byCoverageDesc := func(s []StockItem) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].CoverageDays > s[j].CoverageDays })
	}
	byCoverageDesc(res.LowCoverage)
	byCoverageDesc(res.ExcessCoverage)

	if len(res.Items) == 0 {
		return res, nil
	}
	res.MeanTurnover = stat.Mean(turnovers, nil)
	res.MedianCoverage = Median(coverages)

	covLo, covHi := IQRBounds(coverages, 1.5)
	turnLo, turnHi := IQRBounds(turnovers, 1.5)
	var keptTurnover, keptCoverage []float64
	for _, it := range res.Items {
		outlier := false
		if it.CoverageDays < covLo || it.CoverageDays > covHi {
			res.CoverageOutlier = append(res.CoverageOutlier, it)
			outlier = true
		}
		if it.AnnualTurnover < turnLo || it.AnnualTurnover > turnHi {
			res.TurnoverOutlier = append(res.TurnoverOutlier, it)
			outlier = true
		}
		if !outlier {
			keptTurnover = append(keptTurnover, it.AnnualTurnover)
			keptCoverage = append(keptCoverage, it.CoverageDays)
		}
	}
	if len(keptTurnover) > 0 {
		res.TrimmedMeanTurnover = stat.Mean(keptTurnover, nil)
		res.TrimmedMedianCoverage = Median(keptCoverage)
	}
	return res, nil
}

// Median returns the 50th percentile, averaging the two middle values for
// even-length input. It does not modify values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := sortedCopy(values)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return stat.Mean(s[n/2-1:n/2+1], nil)
}

// IQRBounds returns Q1 - factor*IQR and Q3 + factor*IQR.
func IQRBounds(values []float64, factor float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	s := sortedCopy(values)
	q1 := quantileSorted(s, 0.25)
	q3 := quantileSorted(s, 0.75)
	iqr := q3 - q1
	return q1 - factor*iqr, q3 + factor*iqr
}

// Quantile returns the p-quantile of values, interpolating linearly between
// the order statistics around position (n-1)*p.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return quantileSorted(sortedCopy(values), p)
}

func quantileSorted(s []float64, p float64) float64 {
	pos := float64(len(s)-1) * p
	i := int(math.Floor(pos))
	if i >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := pos - float64(i)
	return s[i] + frac*(s[i+1]-s[i])
}

func sortedCopy(values []float64) []float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	return s
}

// stockID identifies a position. SKUs may contain any printable character.
type stockID struct {
	sku    string
	region string
}

// key orders by SKU then region. Warehouse text never holds NUL.
func (id stockID) key() string { return id.sku + "\x00" + id.region }

func (id stockID) String() string {
	if id.region == "" {
		return id.sku
	}
	return id.sku + "@" + id.region
}

func validateStock(p models.StockPosition, id string) *ValidationError {
	fail := func(field, reason string) *ValidationError {
		return &ValidationError{RecordID: id, Field: field, Reason: reason}
	}
	switch {
	case p.SKU == "":
		return fail("sku", "is missing")
	case !finite(p.Balance) || p.Balance < 0:
		return fail("balance", "is negative or not finite")
	case !finite(p.SoldQty) || p.SoldQty < 0:
		return fail("sold_qty", "is negative or not finite")
	case !finite(p.BonusQty) || p.BonusQty < 0:
		return fail("bonus_qty", "is negative or not finite")
	case !finite(p.StockValue) || p.StockValue < 0:
		return fail("stock_value", "is negative or not finite")
	}
	return nil
}
