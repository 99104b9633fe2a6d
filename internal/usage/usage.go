// Package usage meters generation requests per owner (user or guest) so the
// dashboard can show monthly consumption and a monthly limit can be enforced.
package usage

import (
	"context"
	"time"
)

// Record is one provider request.
type Record struct {
	OwnerID   string `json:"owner_id"`
	Date      string `json:"date"` // YYYY-MM-DD, UTC
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
}

// DayCount is the number of requests made on one day.
type DayCount struct {
	Date     string `json:"date"`
	Requests int    `json:"requests"`
}

// Store persists usage records.
type Store interface {
	Record(ctx context.Context, r Record) error
	// CountSince counts requests by owner on or after the fromDate key.
	CountSince(ctx context.Context, ownerID, fromDate string) (int, error)
	// Daily groups requests by day on or after the fromDate key.
	Daily(ctx context.Context, ownerID, fromDate string) ([]DayCount, error)
	// Claim moves every record of fromOwner to toOwner.
	Claim(ctx context.Context, fromOwner, toOwner string) error
}

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthStart returns the date key of the first day of t's month (UTC).
func MonthStart(t time.Time) string {
	t = t.UTC()
	return DateKey(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC))
}

// HistoryDays is the length of the history in a Summary.
const HistoryDays = 7

// Summary is what GET /usage/me returns.
type Summary struct {
	Requests int        `json:"requests"`
	Limit    int        `json:"limit"` // 0 means unlimited
	Percent  float64    `json:"percent"`
	History  []DayCount `json:"history"` // newest first, HistoryDays entries
}

// Summarize builds the monthly summary for owner as of now.
func Summarize(ctx context.Context, st Store, ownerID string, now time.Time, limit int) (Summary, error) {
	n, err := st.CountSince(ctx, ownerID, MonthStart(now))
	if err != nil {
		return Summary{}, err
	}
	from := now.UTC().AddDate(0, 0, -(HistoryDays - 1))
	days, err := st.Daily(ctx, ownerID, DateKey(from))
	if err != nil {
		return Summary{}, err
	}
	byDate := make(map[string]int, len(days))
	for _, d := range days {
		byDate[d.Date] = d.Requests
	}
	s := Summary{Requests: n, Limit: limit, History: make([]DayCount, 0, HistoryDays)}
	for i := 0; i < HistoryDays; i++ {
		key := DateKey(now.AddDate(0, 0, -i))
		s.History = append(s.History, DayCount{Date: key, Requests: byDate[key]})
	}
	if limit > 0 {
		s.Percent = float64(n) * 100 / float64(limit)
	}
	return s, nil
}

// Exceeded reports whether owner has used up the monthly limit. A limit of 0 never trips.
func Exceeded(ctx context.Context, st Store, ownerID string, now time.Time, limit int) (bool, error) {
	ok, err := Allows(ctx, st, ownerID, now, limit, 1)
	return !ok, err
}

// Allows reports whether owner can still make need provider calls this month
// without passing limit. A limit of 0 always allows.
func Allows(ctx context.Context, st Store, ownerID string, now time.Time, limit, need int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	n, err := st.CountSince(ctx, ownerID, MonthStart(now))
	if err != nil {
		return true, err
	}
	return n+need <= limit, nil
}
