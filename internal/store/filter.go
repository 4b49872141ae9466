package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-analytics/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidFilter is returned for a filter the warehouse cannot answer.
var ErrInvalidFilter = errors.New("invalid report filter")

// ValidateFilter checks the date window of f.
func ValidateFilter(f models.ReportFilter) error {
	if f.StartDate.IsZero() || f.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidFilter)
	}
	if f.EndDate.Before(f.StartDate) {
		return fmt.Errorf("%w: end date %s before start date %s",
			ErrInvalidFilter, f.EndDate.Format("2006-01-02"), f.StartDate.Format("2006-01-02"))
	}
	return nil
}

// conditions accumulates WHERE fragments with "?" bind vars.
type conditions struct {
	parts []string
	args  []interface{}
}

func (c *conditions) add(cond string, args ...interface{}) {
	c.parts = append(c.parts, cond)
	c.args = append(c.args, args...)
}

func (c *conditions) in(column string, values []string) error {
	values = nonEmpty(values)
	if len(values) == 0 {
		return nil
	}
	q, args, err := sqlx.In(column+" IN (?)", values)
	if err != nil {
		return fmt.Errorf("bind %s: %w", column, err)
	}
	c.add(q, args...)
	return nil
}

func (c *conditions) sql() string {
	if len(c.parts) == 0 {
		return "1 = 1"
	}
	return strings.Join(c.parts, " AND ")
}

// salesConditions filters sales lines aliased as sl over [start, end] (end
// date inclusive) and the dimension lists of f.
func salesConditions(f models.ReportFilter, start, end time.Time) (*conditions, error) {
	c := &conditions{}
	c.add("sl.invoice_date >= ?", dateOnly(start))
	c.add("sl.invoice_date < ?", dateOnly(end).AddDate(0, 0, 1))

	lists := []struct {
		column string
		values []string
	}{
		{"sl.channel", f.Channels},
		{"sl.region", f.Regions},
		{"sl.brand", f.Brands},
		{"sl.sales_rep_name", f.SalesReps},
		{"sl.team", f.Teams},
	}
	for _, l := range lists {
		if err := c.in(l.column, l.values); err != nil {
			return nil, err
		}
	}
	if code := strings.TrimSpace(f.SalesRepCode); code != "" {
		c.add("sl.sales_rep_code = ?", code)
	}
	return c, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
