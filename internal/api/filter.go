package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sales-analytics/internal/analytics"
	"sales-analytics/internal/models"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// bindFilter reads the report filter from the query string. It writes a 400
// and returns false on malformed input.
func bindFilter(c *gin.Context) (models.ReportFilter, bool) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid filter",
			"details": err.Error(),
		})
		return f, false
	}
	return f, true
}

func parseFilter(c *gin.Context) (models.ReportFilter, error) {
	var f models.ReportFilter
	var err error

	if f.StartDate, err = parseDate(c.Query("start")); err != nil {
		return f, fmt.Errorf("start: %w", err)
	}
	if f.EndDate, err = parseDate(c.Query("end")); err != nil {
		return f, fmt.Errorf("end: %w", err)
	}

	f.Channels = c.QueryArray("channel")
	f.Regions = c.QueryArray("region")
	f.Brands = c.QueryArray("brand")
	f.SalesReps = c.QueryArray("sales_rep")
	f.Teams = c.QueryArray("team")
	f.SalesRepCode = strings.TrimSpace(c.Query("sales_rep_code"))
	return f, nil
}

// parseDate accepts YYYY-MM-DD. An empty value yields the zero time.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, v)
}

// parseRecency maps "0".."6" to whole months. "7", "7+" and anything above
// map to analytics.RecencyOver6. A raw "+" in a query string decodes to a
// space, hence the trim.
func parseRecency(values []string) ([]int, error) {
	months := make([]int, 0, len(values))
	for _, v := range values {
		v = strings.TrimSuffix(strings.TrimSpace(v), "+")
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("recency %q: want 0-6 or 7+", v)
		}
		if n > 6 {
			n = analytics.RecencyOver6
		}
		months = append(months, n)
	}
	return months, nil
}
