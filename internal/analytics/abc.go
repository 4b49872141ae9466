package analytics

import (
	"sort"

	"sales-analytics/internal/models"
)

// Curve labels
const (
	CurveA = "A"
	CurveB = "B"
	CurveC = "C"
)

// Curves lists the labels in rank order.
var Curves = []string{CurveA, CurveB, CurveC}

// Cumulative-share boundaries. A share equal to a boundary stays in the
// higher curve.
const (
	CurveALimit = 0.80
	CurveBLimit = 0.95
)

// ABCResult is the output of ClassifyABC.
type ABCResult struct {
	Items   []models.ABCItem   `json:"items"`
	Skipped []*ValidationError `json:"skipped,omitempty"`

	// DegenerateTotal is set when rows were ranked but their metrics sum to
	// zero. Every item is then C with share 0 and callers should present
	// the report as "no data".
	DegenerateTotal bool    `json:"degenerate_total"`
	Total           float64 `json:"total"`
}

// Empty reports whether nothing was classified.
func (r *ABCResult) Empty() bool { return len(r.Items) == 0 }

// SkipReport summarises the rejected rows.
func (r *ABCResult) SkipReport() SkipReport { return newSkipReport(r.Skipped) }

// ClassifyABC ranks the entities by metric descending (ties by entity_id
// ascending, then input position) and labels each by cumulative share of the
// whole set.
func ClassifyABC(entities []models.ABCInput) *ABCResult {
	res := &ABCResult{Items: make([]models.ABCItem, 0, len(entities))}

	for i := range entities {
		e := &entities[i]
		if verr := validateABC(e); verr != nil {
			res.Skipped = append(res.Skipped, verr)
			continue
		}
		res.Items = append(res.Items, models.ABCItem{
			EntityID:    e.EntityID,
			Group:       e.Group,
			MetricValue: *e.MetricValue,
		})
	}

	items := res.Items
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].MetricValue != items[j].MetricValue {
			return items[i].MetricValue > items[j].MetricValue
		}
		return items[i].EntityID < items[j].EntityID
	})

	cum := make([]float64, len(items))
	var sum float64
	for i := range items {
		sum += items[i].MetricValue
		cum[i] = sum
	}
	// the last running sum is the total, so the final share is exactly 1
	res.Total = sum
	res.DegenerateTotal = len(items) > 0 && sum == 0

	for i := range items {
		items[i].Rank = i + 1
		if sum == 0 {
			items[i].CumulativeShare = 0
			items[i].Curve = CurveC
			continue
		}
		items[i].CumulativeShare = cum[i] / sum
		items[i].Curve = CurveFor(items[i].CumulativeShare)
	}
	return res
}

// CurveFor maps a cumulative share to its curve.
func CurveFor(share float64) string {
	switch {
	case share <= CurveALimit:
		return CurveA
	case share <= CurveBLimit:
		return CurveB
	default:
		return CurveC
	}
}

func validateABC(e *models.ABCInput) *ValidationError {
	fail := func(field, reason string) *ValidationError {
		return &ValidationError{RecordID: e.EntityID, Field: field, Reason: reason}
	}
	switch {
	case e.EntityID == "":
		return fail("entity_id", "is missing")
	case e.MetricValue == nil:
		return fail("metric_value", "is missing")
	case !finite(*e.MetricValue):
		return fail("metric_value", "is not a finite number")
	case *e.MetricValue < 0:
		return fail("metric_value", "is negative")
	}
	return nil
}
