// Package query coerces list query-string parameters into bounded values.
// Out-of-range or malformed input falls back to defaults instead of failing.
package query

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage        = 1
	DefaultLimit       = 50
	DefaultReviewLimit = 20
	MaxLimit           = 100
	DefaultSort        = "username"
	DefaultOrder       = "ASC"
)

// MaxPage keeps (page-1)*MaxLimit within a 32-bit offset.
const MaxPage = math.MaxInt32 / MaxLimit

// DateRange restricts listings by creation time.
type DateRange string

const (
	DateRangeAll    DateRange = "all"
	DateRangeToday  DateRange = "today"
	DateRange7Days  DateRange = "7d"
	DateRange30Days DateRange = "30d"
)

var sortColumns = map[string]struct{}{
	"username":   {},
	"created_at": {},
	"updated_at": {},
	"id":         {},
}

// ListParams are the coerced parameters of a registry listing.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ListParams struct {
	Page      int
	Limit     int
	Sort      string
	Order     string
	Search    string
	DateRange DateRange
	// Since is the lower bound on created_at derived from DateRange; nil means unbounded.
	Since *time.Time
}

// Offset returns the row offset of the requested page.
func (p ListParams) Offset() int {
	return Offset(p.Page, p.Limit)
}

// Offset returns the row offset of page at limit rows per page. It is never
// negative and saturates at math.MaxInt32 instead of overflowing.
func Offset(page, limit int) int {
	if page <= 1 || limit <= 0 {
		return 0
	}
	if page-1 > math.MaxInt32/limit {
		return math.MaxInt32
	}
	return (page - 1) * limit
}

// ParseList coerces registry list parameters. now anchors the date range.
func ParseList(v url.Values, now time.Time) ListParams {
	p := ListParams{
		Page:      ParsePage(v.Get("page")),
		Limit:     ParseLimit(v.Get("limit"), DefaultLimit),
		Sort:      parseSort(v.Get("sort")),
		Order:     ParseOrder(v.Get("order"), DefaultOrder),
		Search:    strings.TrimSpace(v.Get("search")),
		DateRange: parseDateRange(v.Get("dateRange")),
	}
	p.Since = p.DateRange.Since(now)
	return p
}

// ParsePage returns a page number within 1..MaxPage. Values too large to
// parse are clamped to MaxPage.
func ParsePage(s string) int {
	s = strings.TrimSpace(s)
	page, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(s, "-") {
		return MaxPage
	}
	if err != nil || page < 1 {
		return DefaultPage
	}
	if page > MaxPage {
		return MaxPage
	}
	return page
}

// ParseLimit returns a limit within 1..MaxLimit, def when absent or malformed.
func ParseLimit(s string, def int) int {
	limit, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ParseOrder returns ASC or DESC, def when anything else is supplied.
func ParseOrder(s string, def string) string {
	order := strings.ToUpper(strings.TrimSpace(s))
	if order != "ASC" && order != "DESC" {
		return def
	}
	return order
}

func parseSort(s string) string {
	if _, ok := sortColumns[s]; ok {
		return s
	}
	return DefaultSort
}

func parseDateRange(s string) DateRange {
	switch DateRange(s) {
	case DateRangeToday, DateRange7Days, DateRange30Days:
		return DateRange(s)
	default:
		return DateRangeAll
	}
}

// Since returns the inclusive lower bound for the range, or nil for all.
// "today" starts at midnight UTC of now's day.
func (d DateRange) Since(now time.Time) *time.Time {
	now = now.UTC()
	var since time.Time
	switch d {
	case DateRangeToday:
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case DateRange7Days:
		since = now.AddDate(0, 0, -7)
	case DateRange30Days:
		since = now.AddDate(0, 0, -30)
	default:
		return nil
	}
	return &since
}

// EscapeLike escapes LIKE wildcards so user input matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Pages returns the number of pages needed for total rows.
func Pages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
