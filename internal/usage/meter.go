package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/poco/internal/genesis"
	"github.com/robalobadob/poco/internal/metrics"
)

// Operation names recorded per provider call.
const (
	OpAnalyze    = "analyze_genesis"
	OpSilhouette = "render_silhouette"
	OpVerify     = "verify_feed"
	OpStats      = "final_stats"
	OpImage      = "final_image"
)

type ownerKey struct{}

// WithOwner tags ctx with the owner that provider calls are billed to.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the owner set by WithOwner, or "".
func OwnerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

// Meter decorates a genesis.Provider, recording every call to a Store and to
// the Prometheus provider metrics. Recording failures are logged, never returned.
type Meter struct {
	next  genesis.Provider
	store Store
	now   func() time.Time
}

func NewMeter(next genesis.Provider, st Store) *Meter {
	return &Meter{next: next, store: st, now: time.Now}
}

func (m *Meter) observe(ctx context.Context, op string, start time.Time, err error) {
	metrics.ObserveProviderCall(op, err == nil, m.now().Sub(start))
	owner := OwnerFrom(ctx)
	if owner == "" || m.store == nil {
		return
	}
	rec := Record{OwnerID: owner, Date: DateKey(start), Operation: op, Success: err == nil}
	if rerr := m.store.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		log.Warn().Err(rerr).Str("owner", owner).Str("op", op).Msg("record usage")
	}
}

func (m *Meter) AnalyzeGenesis(ctx context.Context, req genesis.AnalyzeRequest) (*genesis.AnalyzeResult, error) {
	start := m.now()
	res, err := m.next.AnalyzeGenesis(ctx, req)
	m.observe(ctx, OpAnalyze, start, err)
	return res, err
}

func (m *Meter) RenderSilhouette(ctx context.Context, req genesis.SilhouetteRequest) (string, error) {
	start := m.now()
	svg, err := m.next.RenderSilhouette(ctx, req)
	m.observe(ctx, OpSilhouette, start, err)
	return svg, err
}

func (m *Meter) VerifyFeed(ctx context.Context, req genesis.FeedRequest) (*genesis.FeedResult, error) {
	start := m.now()
	res, err := m.next.VerifyFeed(ctx, req)
	m.observe(ctx, OpVerify, start, err)
	return res, err
}

func (m *Meter) FinalStats(ctx context.Context, req genesis.StatsRequest) (*genesis.StatsResult, error) {
	start := m.now()
	res, err := m.next.FinalStats(ctx, req)
	m.observe(ctx, OpStats, start, err)
	return res, err
}

func (m *Meter) FinalImage(ctx context.Context, prompt string) (string, error) {
	start := m.now()
	uri, err := m.next.FinalImage(ctx, prompt)
	m.observe(ctx, OpImage, start, err)
	return uri, err
}

var _ genesis.Provider = (*Meter)(nil)
