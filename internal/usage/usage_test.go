package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/poco/internal/genesis"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *memStore) Record(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) CountSince(ctx context.Context, ownerID, fromDate string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Date >= fromDate {
			n++
		}
	}
	return n, m.err
}

func (m *memStore) Claim(ctx context.Context, fromOwner, toOwner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].OwnerID == fromOwner {
			m.records[i].OwnerID = toOwner
		}
	}
	return m.err
}

func (m *memStore) Daily(ctx context.Context, ownerID, fromDate string) ([]DayCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dates []string
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Date >= fromDate {
			dates = append(dates, r.Date)
		}
	}
	return groupDays(dates), m.err
}

func TestDateKeys(t *testing.T) {
	ts := time.Date(2024, 6, 17, 23, 30, 0, 0, time.FixedZone("X", -3*3600))
	assert.Equal(t, "2024-06-18", DateKey(ts))
	assert.Equal(t, "2024-06-01", MonthStart(ts))
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	st := &memStore{records: []Record{
		{OwnerID: "u1", Date: "2024-05-30"},
		{OwnerID: "u1", Date: "2024-06-01"},
		{OwnerID: "u1", Date: "2024-06-03"},
		{OwnerID: "u1", Date: "2024-06-03"},
		{OwnerID: "u2", Date: "2024-06-03"},
	}}

	s, err := Summarize(context.Background(), st, "u1", now, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Requests)
	assert.Equal(t, 10, s.Limit)
	assert.InDelta(t, 30.0, s.Percent, 0.001)
	require.Len(t, s.History, HistoryDays)
	assert.Equal(t, DayCount{Date: "2024-06-03", Requests: 2}, s.History[0])
	assert.Equal(t, DayCount{Date: "2024-06-02", Requests: 0}, s.History[1])
	assert.Equal(t, DayCount{Date: "2024-06-01", Requests: 1}, s.History[2])
	assert.Equal(t, DayCount{Date: "2024-05-30", Requests: 1}, s.History[4])
}

func TestExceeded(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	st := &memStore{records: []Record{{OwnerID: "u1", Date: "2024-06-01"}, {OwnerID: "u1", Date: "2024-06-02"}}}

	over, err := Exceeded(context.Background(), st, "u1", now, 0)
	require.NoError(t, err)
	assert.False(t, over)

	over, err = Exceeded(context.Background(), st, "u1", now, 3)
	require.NoError(t, err)
	assert.False(t, over)

	over, err = Exceeded(context.Background(), st, "u1", now, 2)
	require.NoError(t, err)
	assert.True(t, over)
}

func TestAllowsReservesCalls(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	st := &memStore{records: []Record{{OwnerID: "u1", Date: "2024-06-01"}, {OwnerID: "u1", Date: "2024-06-02"}}}

	ok, err := Allows(context.Background(), st, "u1", now, 4, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Allows(context.Background(), st, "u1", now, 3, 2)
	require.NoError(t, err)
	assert.False(t, ok, "two calls on top of two would pass a limit of three")

	ok, err = Allows(context.Background(), st, "u1", now, 0, 100)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimMovesHistory(t *testing.T) {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	st := &memStore{records: []Record{{OwnerID: "anon-1", Date: "2024-06-01"}, {OwnerID: "u1", Date: "2024-06-02"}}}

	require.NoError(t, st.Claim(context.Background(), "anon-1", "u1"))
	sum, err := Summarize(context.Background(), st, "u1", now, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Requests)
}

func TestGroupDays(t *testing.T) {
	got := groupDays([]string{"2024-06-01", "2024-06-03", "2024-06-01"})
	assert.Equal(t, []DayCount{{Date: "2024-06-03", Requests: 1}, {Date: "2024-06-01", Requests: 2}}, got)
}

type stubProvider struct{ err error }

func (s stubProvider) AnalyzeGenesis(ctx context.Context, req genesis.AnalyzeRequest) (*genesis.AnalyzeResult, error) {
	return &genesis.AnalyzeResult{Theme: "t"}, s.err
}
func (s stubProvider) RenderSilhouette(ctx context.Context, req genesis.SilhouetteRequest) (string, error) {
	return "<svg/>", s.err
}
func (s stubProvider) VerifyFeed(ctx context.Context, req genesis.FeedRequest) (*genesis.FeedResult, error) {
	return &genesis.FeedResult{Success: true}, s.err
}
func (s stubProvider) FinalStats(ctx context.Context, req genesis.StatsRequest) (*genesis.StatsResult, error) {
	return &genesis.StatsResult{}, s.err
}
func (s stubProvider) FinalImage(ctx context.Context, prompt string) (string, error) {
	return "data:,", s.err
}

func TestMeterRecordsPerOwner(t *testing.T) {
	st := &memStore{}
	m := NewMeter(stubProvider{}, st)
	m.now = func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) }
	ctx := WithOwner(context.Background(), "u1")

	res, err := m.AnalyzeGenesis(ctx, genesis.AnalyzeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "t", res.Theme)
	_, _ = m.RenderSilhouette(ctx, genesis.SilhouetteRequest{})
	_, _ = m.VerifyFeed(ctx, genesis.FeedRequest{})
	_, _ = m.FinalStats(ctx, genesis.StatsRequest{})
	_, _ = m.FinalImage(ctx, "p")

	require.Len(t, st.records, 5)
	assert.Equal(t, Record{OwnerID: "u1", Date: "2024-06-03", Operation: OpAnalyze, Success: true}, st.records[0])
	assert.Equal(t, OpImage, st.records[4].Operation)
}

func TestMeterRecordsFailuresAndPassesErrors(t *testing.T) {
	st := &memStore{}
	boom := errors.New("boom")
	m := NewMeter(stubProvider{err: boom}, st)

	_, err := m.FinalImage(WithOwner(context.Background(), "u1"), "p")
	assert.ErrorIs(t, err, boom)
	require.Len(t, st.records, 1)
	assert.False(t, st.records[0].Success)
}

func TestMeterSkipsAnonymousContextAndStoreErrors(t *testing.T) {
	st := &memStore{}
	m := NewMeter(stubProvider{}, st)
	_, err := m.FinalImage(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, st.records)

	st.err = errors.New("db down")
	_, err = m.FinalImage(WithOwner(context.Background(), "u1"), "p")
	assert.NoError(t, err)
}
