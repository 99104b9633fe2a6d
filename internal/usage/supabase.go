package usage

import (
	"context"
	"fmt"
	"sort"

	supa "github.com/supabase-community/supabase-go"
)

const supabaseTable = "provider_usage"

// SupabaseStore keeps usage in a hosted provider_usage table through PostgREST.
// The table has the same columns as the SQLite migration.
type SupabaseStore struct{ client *supa.Client }

// NewSupabaseStore connects with the project URL and service key.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	c, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("usage: supabase client: %w", err)
	}
	return &SupabaseStore{client: c}, nil
}

func (s *SupabaseStore) Record(ctx context.Context, r Record) error {
	_, _, err := s.client.From(supabaseTable).Insert(r, false, "", "minimal", "").Execute()
	return err
}

func (s *SupabaseStore) CountSince(ctx context.Context, ownerID, fromDate string) (int, error) {
	_, count, err := s.client.From(supabaseTable).
		Select("date", "exact", true).
		Eq("owner_id", ownerID).
		Gte("date", fromDate).
		Execute()
	return int(count), err
}

func (s *SupabaseStore) Daily(ctx context.Context, ownerID, fromDate string) ([]DayCount, error) {
	var rows []struct {
		Date string `json:"date"`
	}
	_, err := s.client.From(supabaseTable).
		Select("date", "", false).
		Eq("owner_id", ownerID).
		Gte("date", fromDate).
		ExecuteTo(&rows)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(rows))
	for _, r := range rows {
		dates = append(dates, r.Date)
	}
	return groupDays(dates), nil
}

func (s *SupabaseStore) Claim(ctx context.Context, fromOwner, toOwner string) error {
	_, _, err := s.client.From(supabaseTable).
		Update(map[string]string{"owner_id": toOwner}, "minimal", "").
		Eq("owner_id", fromOwner).
		Execute()
	return err
}

// groupDays counts dates and orders them newest first.
func groupDays(dates []string) []DayCount {
	counts := map[string]int{}
	for _, d := range dates {
		counts[d]++
	}
	out := make([]DayCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, DayCount{Date: d, Requests: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}
