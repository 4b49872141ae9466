package analytics

import (
	"math"
	"sort"

	"sales-analytics/internal/models"
)

// SegmentSummary aggregates scored customers per segment, channel and region.
type SegmentSummary struct {
	Segment       string  `json:"segment"`
	Channel       string  `json:"channel"`
	Region        string  `json:"region"`
	Customers     int     `json:"customers"`
	MonetaryTotal float64 `json:"monetary_total"`
	MonetaryMean  float64 `json:"monetary_mean"`
	RecencyMean   float64 `json:"recency_mean"`
	FrequencyMean float64 `json:"frequency_mean"`

	// Ticket is the mean spend per purchase: MonetaryMean / FrequencyMean.
	Ticket float64 `json:"ticket"`
	RMean  float64 `json:"r_mean"`
	FMean  float64 `json:"f_mean"`
	MMean  float64 `json:"m_mean"`
}

type segmentKey struct {
	segment, channel, region string
}

// SummarizeSegments groups scored customers. Rows are ordered by monetary
// total descending, then segment, channel and region.
func SummarizeSegments(customers []models.ScoredCustomer) []SegmentSummary {
	type acc struct {
		n                int
		money, rec, freq float64
		rSum, fSum, mSum int
	}
	groups := make(map[segmentKey]*acc)
	for i := range customers {
		c := &customers[i]
		k := segmentKey{c.Segment, c.Channel, c.Region}
		a := groups[k]
		if a == nil {
			a = &acc{}
			groups[k] = a
		}
		a.n++
		a.money += c.MonetaryTotal
		a.rec += c.RecencyMonths
		a.freq += float64(c.FrequencyCount)
		a.rSum += c.R
		a.fSum += c.F
		a.mSum += c.M
	}

	out := make([]SegmentSummary, 0, len(groups))
	for k, a := range groups {
		n := float64(a.n)
		s := SegmentSummary{
			Segment:       k.segment,
			Channel:       k.channel,
			Region:        k.region,
			Customers:     a.n,
			MonetaryTotal: a.money,
			MonetaryMean:  a.money / n,
			RecencyMean:   a.rec / n,
			FrequencyMean: a.freq / n,
			RMean:         float64(a.rSum) / n,
			FMean:         float64(a.fSum) / n,
			MMean:         float64(a.mSum) / n,
		}
		if s.FrequencyMean > 0 {
			s.Ticket = s.MonetaryMean / s.FrequencyMean
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonetaryTotal != out[j].MonetaryTotal {
			return out[i].MonetaryTotal > out[j].MonetaryTotal
		}
		if out[i].Segment != out[j].Segment {
			return out[i].Segment < out[j].Segment
		}
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// Heatmap counts customers per (R, F) cell. Cells[r-1][f-1].
type Heatmap struct {
	Cells [5][5]int `json:"cells"`
	Total int       `json:"total"`
}

// Count returns the number of customers with the given scores.
func (h Heatmap) Count(r, f int) int {
	if r < 1 || r > 5 || f < 1 || f > 5 {
		return 0
	}
	return h.Cells[r-1][f-1]
}

// BuildHeatmap fills the R x F matrix.
func BuildHeatmap(customers []models.ScoredCustomer) Heatmap {
	var h Heatmap
	for i := range customers {
		r, f := clampScore(customers[i].R), clampScore(customers[i].F)
		h.Cells[r-1][f-1]++
		h.Total++
	}
	return h
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}

// FilterBySegment keeps customers whose segment is listed. An empty list
// keeps everyone.
func FilterBySegment(customers []models.ScoredCustomer, segments ...string) []models.ScoredCustomer {
	if len(segments) == 0 {
		return customers
	}
	want := make(map[string]bool, len(segments))
	for _, s := range segments {
		want[s] = true
	}
	out := make([]models.ScoredCustomer, 0)
	for _, c := range customers {
		if want[c.Segment] {
			out = append(out, c)
		}
	}
	return out
}

// RecencyOver6 selects every customer more than six months without buying.
const RecencyOver6 = -1

// FilterByRecency keeps customers whose whole months since last purchase are
// listed. RecencyOver6 matches anything above six. An empty list keeps
// everyone.
func FilterByRecency(customers []models.ScoredCustomer, months ...int) []models.ScoredCustomer {
	if len(months) == 0 {
		return customers
	}
	want := make(map[int]bool, len(months))
	for _, m := range months {
		want[m] = true
	}
	out := make([]models.ScoredCustomer, 0)
	for _, c := range customers {
		m := int(math.Floor(c.RecencyMonths))
		if want[m] || (m > 6 && want[RecencyOver6]) {
			out = append(out, c)
		}
	}
	return out
}

// CurveSummary aggregates ABC items of one curve.
type CurveSummary struct {
	Curve       string  `json:"curve"`
	Items       int     `json:"items"`
	ItemShare   float64 `json:"item_share"`
	MetricTotal float64 `json:"metric_total"`
	MetricShare float64 `json:"metric_share"`
}

// SummarizeCurves always returns one row per curve, A first.
func SummarizeCurves(items []models.ABCItem) []CurveSummary {
	out := make([]CurveSummary, len(Curves))
	idx := make(map[string]int, len(Curves))
	for i, c := range Curves {
		out[i].Curve = c
		idx[c] = i
	}
	var total float64
	for _, it := range items {
		i, ok := idx[it.Curve]
		if !ok {
			continue
		}
		out[i].Items++
		out[i].MetricTotal += it.MetricValue
		total += it.MetricValue
	}
	for i := range out {
		if len(items) > 0 {
			out[i].ItemShare = float64(out[i].Items) / float64(len(items))
		}
		if total > 0 {
			out[i].MetricShare = out[i].MetricTotal / total
		}
	}
	return out
}

// TopPerCurve returns the first n ranked items of each curve.
func TopPerCurve(items []models.ABCItem, n int) map[string][]models.ABCItem {
	out := make(map[string][]models.ABCItem, len(Curves))
	for _, c := range Curves {
		out[c] = []models.ABCItem{}
	}
	for _, it := range items {
		if len(out[it.Curve]) < n {
			out[it.Curve] = append(out[it.Curve], it)
		}
	}
	return out
}

// GroupShare is the percentage of each curve's metric held by one group.
type GroupShare struct {
	Group  string             `json:"group"`
	Shares map[string]float64 `json:"shares"`
}

// GroupShareByCurve computes, per curve, what percentage of that curve's
// metric each group (typically a brand) holds. Rows are ordered by their A
// share descending, then group name.
func GroupShareByCurve(items []models.ABCItem) []GroupShare {
	curveTotals := make(map[string]float64)
	byGroup := make(map[string]map[string]float64)
	for _, it := range items {
		curveTotals[it.Curve] += it.MetricValue
		g := byGroup[it.Group]
		if g == nil {
			g = make(map[string]float64)
			byGroup[it.Group] = g
		}
		g[it.Curve] += it.MetricValue
	}

	out := make([]GroupShare, 0, len(byGroup))
	for name, sums := range byGroup {
		gs := GroupShare{Group: name, Shares: make(map[string]float64, len(Curves))}
		for _, c := range Curves {
			if curveTotals[c] > 0 {
				gs.Shares[c] = round2(sums[c] / curveTotals[c] * 100)
			} else {
				gs.Shares[c] = 0
			}
		}
		out = append(out, gs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shares[CurveA] != out[j].Shares[CurveA] {
			return out[i].Shares[CurveA] > out[j].Shares[CurveA]
		}
		return out[i].Group < out[j].Group
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
