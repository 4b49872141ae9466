package store

import (
	"context"
	"fmt"

	"sales-analytics/internal/models"
)

// Month difference between the window end and the last purchase, counted in
// calendar months: 0 is the end month itself.
const recencyExpr = `((EXTRACT(YEAR FROM ?::date) - EXTRACT(YEAR FROM MAX(sl.invoice_date))) * 12
		+ EXTRACT(MONTH FROM ?::date) - EXTRACT(MONTH FROM MAX(sl.invoice_date)))::float8`

// CustomerRFM returns one row per customer x channel x region with the
// aggregates the RFM scorer needs. Frequency counts distinct invoices.
func (s *Store) CustomerRFM(ctx context.Context, f models.ReportFilter) ([]models.CustomerRFMRecord, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	where, err := salesConditions(f, f.StartDate, f.EndDate)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			sl.customer_id,
			COALESCE(MAX(c.customer_name), '') AS customer_name,
			sl.channel,
			sl.region,
			COALESCE(MAX(sl.sales_rep_name), '') AS sales_rep,
			%s AS recency_months,
			COUNT(DISTINCT sl.invoice_id) AS frequency_count,
			SUM(sl.net_revenue)::float8 AS monetary_total
		FROM sales_lines sl
		LEFT JOIN customers c ON c.customer_id = sl.customer_id
		WHERE %s
		GROUP BY sl.customer_id, sl.channel, sl.region`, recencyExpr, where.sql())

	end := dateOnly(f.EndDate)
	args := append([]interface{}{end, end}, where.args...)

	var rows []models.CustomerRFMRecord
	if err := s.selectReport(ctx, "customer_rfm", &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ProductRevenue returns net revenue and quantity per SKU.
func (s *Store) ProductRevenue(ctx context.Context, f models.ReportFilter) ([]models.ProductRevenue, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	where, err := salesConditions(f, f.StartDate, f.EndDate)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			sl.sku,
			COALESCE(MAX(p.product_name), '') AS product_name,
			COALESCE(MAX(p.brand), MAX(sl.brand), '') AS brand,
			SUM(sl.net_revenue)::float8 AS net_revenue,
			COALESCE(SUM(sl.quantity), 0)::bigint AS quantity_sold
		FROM sales_lines sl
		LEFT JOIN products p ON p.sku = sl.sku
		WHERE %s
		GROUP BY sl.sku`, where.sql())

	var rows []models.ProductRevenue
	if err := s.selectReport(ctx, "product_revenue", &rows, query, where.args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// CustomerRevenue returns net revenue per customer.
func (s *Store) CustomerRevenue(ctx context.Context, f models.ReportFilter) ([]models.CustomerRevenue, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	where, err := salesConditions(f, f.StartDate, f.EndDate)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			sl.customer_id,
			COALESCE(MAX(c.customer_name), '') AS customer_name,
			SUM(sl.net_revenue)::float8 AS net_revenue
		FROM sales_lines sl
		LEFT JOIN customers c ON c.customer_id = sl.customer_id
		WHERE %s
		GROUP BY sl.customer_id`, where.sql())

	var rows []models.CustomerRevenue
	if err := s.selectReport(ctx, "customer_revenue", &rows, query, where.args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// StockPositions returns the current balance per SKU and region with the
// quantities sold and given as bonus over the periodDays ending at the filter
// end date.
func (s *Store) StockPositions(ctx context.Context, f models.ReportFilter, periodDays int) ([]models.StockPosition, error) {
	if f.EndDate.IsZero() {
		return nil, fmt.Errorf("%w: end date is required", ErrInvalidFilter)
	}
	if periodDays <= 0 {
		return nil, fmt.Errorf("%w: period of %d days", ErrInvalidFilter, periodDays)
	}

	start := dateOnly(f.EndDate).AddDate(0, 0, -periodDays+1)
	sales, err := salesConditions(f, start, f.EndDate)
	if err != nil {
		return nil, err
	}

	stock := &conditions{}
	if err := stock.in("sb.region", f.Regions); err != nil {
		return nil, err
	}
	if err := stock.in("p.brand", f.Brands); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH sales AS (
			SELECT
				sl.sku,
				sl.region,
				SUM(sl.quantity) AS sold_qty,
				SUM(sl.bonus_quantity) AS bonus_qty
			FROM sales_lines sl
			WHERE %s
			GROUP BY sl.sku, sl.region
		)
		SELECT
			sb.sku,
			COALESCE(p.product_name, '') AS product_name,
			COALESCE(p.brand, '') AS brand,
			sb.region,
			sb.balance::float8 AS balance,
			COALESCE(s.sold_qty, 0)::float8 AS sold_qty,
			COALESCE(s.bonus_qty, 0)::float8 AS bonus_qty,
			(sb.balance * sb.unit_cost)::float8 AS stock_value
		FROM stock_balances sb
		LEFT JOIN products p ON p.sku = sb.sku
		LEFT JOIN sales s ON s.sku = sb.sku AND s.region = sb.region
		WHERE %s`, sales.sql(), stock.sql())

	args := append(sales.args, stock.args...)

	var rows []models.StockPosition
	if err := s.selectReport(ctx, "stock_positions", &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// filterColumns maps option names to warehouse columns.
var filterColumns = map[string]string{
	"channels":   "sl.channel",
	"regions":    "sl.region",
	"brands":     "sl.brand",
	"teams":      "sl.team",
	"sales_reps": "sl.sales_rep_name",
}

// FilterOptions lists the distinct values of every filter dimension seen in
// the date window of f. Dimension lists in f are ignored.
func (s *Store) FilterOptions(ctx context.Context, f models.ReportFilter) (*models.FilterOptions, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	window := models.ReportFilter{StartDate: f.StartDate, EndDate: f.EndDate, SalesRepCode: f.SalesRepCode}
	where, err := salesConditions(window, window.StartDate, window.EndDate)
	if err != nil {
		return nil, err
	}

	opts := &models.FilterOptions{}
	targets := map[string]*[]string{
		"channels":   &opts.Channels,
		"regions":    &opts.Regions,
		"brands":     &opts.Brands,
		"teams":      &opts.Teams,
		"sales_reps": &opts.SalesReps,
	}
	for name, dest := range targets {
		column := filterColumns[name]
		query := fmt.Sprintf(`
			SELECT DISTINCT %[1]s
			FROM sales_lines sl
			WHERE %[2]s AND %[1]s IS NOT NULL
			ORDER BY 1`, column, where.sql())

		values := []string{}
		if err := s.selectReport(ctx, "filter_"+name, &values, query, where.args...); err != nil {
			return nil, err
		}
		*dest = values
	}
	return opts, nil
}
