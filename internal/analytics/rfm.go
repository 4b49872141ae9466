// Package analytics holds the pure report computations: RFM scoring,
// ABC classification and stock turnover. Nothing here performs I/O or keeps
// state between calls.
package analytics

import (
	"math"
	"sort"

	"sales-analytics/internal/models"
)

// Segment labels, in decision-table order.
const (
	SegmentChampions      = "Champions"
	SegmentLoyal          = "Loyal customers"
	SegmentNew            = "New customers"
	SegmentLost           = "Lost"
	SegmentNeedsAttention = "Needs attention"
	SegmentAtRisk         = "At risk"
	SegmentPotential      = "Potential"
	SegmentMonitor        = "Monitor"
)

// Segments lists every label Segment can return.
var Segments = []string{
	SegmentChampions,
	SegmentLoyal,
	SegmentNew,
	SegmentLost,
	SegmentNeedsAttention,
	SegmentAtRisk,
	SegmentPotential,
	SegmentMonitor,
}

const quintiles = 5

// RFMResult is the output of ScoreRFM.
type RFMResult struct {
	Customers []models.ScoredCustomer `json:"customers"`
	Skipped   []*ValidationError      `json:"skipped,omitempty"`
}

// Empty reports whether no record could be scored.
func (r *RFMResult) Empty() bool { return len(r.Customers) == 0 }

// SkipReport summarises the rejected records.
func (r *RFMResult) SkipReport() SkipReport { return newSkipReport(r.Skipped) }

// ScoreRFM scores a cohort. Invalid records are reported in Skipped and left
// out of the cohort, so they do not shift the monetary quintiles.
//
// Customers come back in monetary rank order: monetary_total descending, ties
// broken by customer_id, channel, region and then input position. The same
// order decides which quintile equal spenders land in.
func ScoreRFM(records []models.CustomerRFMRecord) *RFMResult {
	res := &RFMResult{Customers: make([]models.ScoredCustomer, 0, len(records))}

	for i := range records {
		rec := &records[i]
		if verr := validateRFM(rec); verr != nil {
			res.Skipped = append(res.Skipped, verr)
			continue
		}
		res.Customers = append(res.Customers, models.ScoredCustomer{
			CustomerID:     rec.CustomerID,
			CustomerName:   rec.CustomerName,
			Channel:        rec.Channel,
			Region:         rec.Region,
			SalesRep:       rec.SalesRep,
			RecencyMonths:  *rec.RecencyMonths,
			FrequencyCount: *rec.FrequencyCount,
			MonetaryTotal:  *rec.MonetaryTotal,
		})
	}

	cs := res.Customers
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].MonetaryTotal != cs[j].MonetaryTotal {
			return cs[i].MonetaryTotal > cs[j].MonetaryTotal
		}
		if cs[i].CustomerID != cs[j].CustomerID {
			return cs[i].CustomerID < cs[j].CustomerID
		}
		if cs[i].Channel != cs[j].Channel {
			return cs[i].Channel < cs[j].Channel
		}
		return cs[i].Region < cs[j].Region
	})

	n := len(cs)
	for i := range cs {
		c := &cs[i]
		c.R = RecencyScore(c.RecencyMonths)
		c.F = FrequencyScore(c.FrequencyCount)
		c.M = quintiles + 1 - ntile(i, n, quintiles)
		c.Segment = Segment(c.R, c.F, c.M)
	}
	return res
}

func validateRFM(rec *models.CustomerRFMRecord) *ValidationError {
	fail := func(field, reason string) *ValidationError {
		return &ValidationError{RecordID: rec.CustomerID, Field: field, Reason: reason}
	}
	switch {
	case rec.CustomerID == "":
		return fail("customer_id", "is missing")
	case rec.RecencyMonths == nil:
		return fail("recency_months", "is missing")
	case !finite(*rec.RecencyMonths):
		return fail("recency_months", "is not a finite number")
	case *rec.RecencyMonths < 0:
		return fail("recency_months", "is negative")
	case rec.FrequencyCount == nil:
		return fail("frequency_count", "is missing")
	case *rec.FrequencyCount < 0:
		return fail("frequency_count", "is negative")
	case rec.MonetaryTotal == nil:
		return fail("monetary_total", "is missing")
	case !finite(*rec.MonetaryTotal):
		return fail("monetary_total", "is not a finite number")
	case *rec.MonetaryTotal < 0:
		return fail("monetary_total", "is negative")
	}
	return nil
}

// ntile returns the 1-based bucket of the row at position i (0-based) when n
// ordered rows are split into k buckets. The first n mod k buckets get one
// extra row, as SQL NTILE does.
func ntile(i, n, k int) int {
	size := n / k
	extra := n % k
	// rows covered by the larger buckets
	big := extra * (size + 1)
	if i < big {
		return i/(size+1) + 1
	}
	return extra + (i-big)/size + 1
}

// RecencyScore buckets whole months since the last purchase.
func RecencyScore(months float64) int {
	m := math.Floor(months)
	switch {
	case m <= 1:
		return 5
	case m == 2:
		return 4
	case m == 3:
		return 3
	case m <= 6:
		return 2
	default:
		return 1
	}
}

// FrequencyScore buckets the purchase count.
func FrequencyScore(count int64) int {
	switch {
	case count >= 10:
		return 5
	case count >= 7:
		return 4
	case count >= 3:
		return 3
	case count == 2:
		return 2
	default:
		return 1
	}
}

// Segment applies the decision table. Rules overlap, so the order below is
// part of the contract: the first rule that matches wins.
func Segment(r, f, m int) string {
	switch {
	case r == 5 && f >= 4 && m >= 4:
		return SegmentChampions
	case r >= 4 && f >= 4:
		return SegmentLoyal
	case r == 5 && f <= 2:
		return SegmentNew
	case r == 1:
		return SegmentLost
	case r <= 3 && f == 1:
		return SegmentNeedsAttention
	case f <= 3 && r >= 2 && r <= 3:
		return SegmentAtRisk
	case r >= 3 && f >= 3 && m >= 2:
		return SegmentPotential
	default:
		return SegmentMonitor
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
