package models

import "time"

// CustomerRFMRecord is one aggregated row per customer (optionally per
// customer x channel x region). Numeric fields are pointers so a NULL coming
// from the warehouse, or a field absent from a posted batch, stays missing
// instead of silently becoming zero.
type CustomerRFMRecord struct {
	CustomerID     string   `db:"customer_id" json:"customer_id"`
	CustomerName   string   `db:"customer_name" json:"customer_name,omitempty"`
	Channel        string   `db:"channel" json:"channel,omitempty"`
	Region         string   `db:"region" json:"region,omitempty"`
	SalesRep       string   `db:"sales_rep" json:"sales_rep,omitempty"`
	RecencyMonths  *float64 `db:"recency_months" json:"recency_months"`
	FrequencyCount *int64   `db:"frequency_count" json:"frequency_count"`
	MonetaryTotal  *float64 `db:"monetary_total" json:"monetary_total"`
}

// RFMScore is derived per record and never stored.
type RFMScore struct {
	R       int    `json:"r_score"`
	F       int    `json:"f_score"`
	M       int    `json:"m_score"`
	Segment string `json:"segment"`
}

// ScoredCustomer pairs a validated record with its score.
type ScoredCustomer struct {
	CustomerID     string  `json:"customer_id"`
	CustomerName   string  `json:"customer_name,omitempty"`
	Channel        string  `json:"channel,omitempty"`
	Region         string  `json:"region,omitempty"`
	SalesRep       string  `json:"sales_rep,omitempty"`
	RecencyMonths  float64 `json:"recency_months"`
	FrequencyCount int64   `json:"frequency_count"`
	MonetaryTotal  float64 `json:"monetary_total"`
	RFMScore
}

// ABCInput is one entity to rank.
type ABCInput struct {
	EntityID    string   `json:"entity_id"`
	Group       string   `json:"group,omitempty"`
	MetricValue *float64 `json:"metric_value"`
}

// ABCItem is a ranked entity with its curve.
type ABCItem struct {
	EntityID        string  `json:"entity_id"`
	Group           string  `json:"group,omitempty"`
	Rank            int     `json:"rank"`
	MetricValue     float64 `json:"metric_value"`
	CumulativeShare float64 `json:"cumulative_share"`
	Curve           string  `json:"curve"`
}

// ProductRevenue is net revenue per SKU over a filter window.
type ProductRevenue struct {
	SKU          string   `db:"sku" json:"sku"`
	ProductName  string   `db:"product_name" json:"product_name"`
	Brand        string   `db:"brand" json:"brand"`
	NetRevenue   *float64 `db:"net_revenue" json:"net_revenue"`
	QuantitySold int64    `db:"quantity_sold" json:"quantity_sold"`
}

// CustomerRevenue is net revenue per customer over a filter window.
type CustomerRevenue struct {
	CustomerID   string   `db:"customer_id" json:"customer_id"`
	CustomerName string   `db:"customer_name" json:"customer_name"`
	NetRevenue   *float64 `db:"net_revenue" json:"net_revenue"`
}

// StockPosition is the current stock of a SKU at a branch together with its
// sales over the reference period.
type StockPosition struct {
	SKU         string  `db:"sku" json:"sku"`
	ProductName string  `db:"product_name" json:"product_name"`
	Brand       string  `db:"brand" json:"brand"`
	Region      string  `db:"region" json:"region"`
	Balance     float64 `db:"balance" json:"balance"`
	SoldQty     float64 `db:"sold_qty" json:"sold_qty"`
	BonusQty    float64 `db:"bonus_qty" json:"bonus_qty"`
	StockValue  float64 `db:"stock_value" json:"stock_value"`
}

// ReportFilter selects the cohort a report is computed over. It is passed
// explicitly on every call; nothing is kept between requests.
type ReportFilter struct {
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Channels     []string  `json:"channels,omitempty"`
	Regions      []string  `json:"regions,omitempty"`
	Brands       []string  `json:"brands,omitempty"`
	SalesReps    []string  `json:"sales_reps,omitempty"`
	Teams        []string  `json:"teams,omitempty"`
	SalesRepCode string    `json:"sales_rep_code,omitempty"`
}

// FilterOptions lists the distinct values available for each filter.
type FilterOptions struct {
	Channels  []string `json:"channels"`
	Regions   []string `json:"regions"`
	Brands    []string `json:"brands"`
	Teams     []string `json:"teams"`
	SalesReps []string `json:"sales_reps"`
}

// Report kinds
const (
	ReportKindRFM         = "rfm"
	ReportKindProductABC  = "abc_products"
	ReportKindCustomerABC = "abc_customers"
	ReportKindStock       = "stock"
)

// ValidReportKind reports whether kind names a known report.
func ValidReportKind(kind string) bool {
	switch kind {
	case ReportKindRFM, ReportKindProductABC, ReportKindCustomerABC, ReportKindStock:
		return true
	}
	return false
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
