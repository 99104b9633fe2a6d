package genesis

import "context"

// Provider is the generative content service the flow calls into.
// Every method is one atomic request: it either returns a complete result or an error.
type Provider interface {
	AnalyzeGenesis(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error)
	RenderSilhouette(ctx context.Context, req SilhouetteRequest) (string, error)
	VerifyFeed(ctx context.Context, req FeedRequest) (*FeedResult, error)
	FinalStats(ctx context.Context, req StatsRequest) (*StatsResult, error)
	FinalImage(ctx context.Context, prompt string) (string, error)
}

// AnalyzeRequest carries the genesis photo.
type AnalyzeRequest struct {
	Image  Image
	Locale string
}

// TaskSpec is a task as returned by the provider, before any completion state exists.
type TaskSpec struct {
	ID          string `json:"id"`
	Requirement string `json:"requirement"`
	Description string `json:"description"`
}

// AnalyzeResult is the worldview plus the feeding tasks.
type AnalyzeResult struct {
	Theme       string     `json:"theme"`
	Description string     `json:"description"`
	BaseTraits  []string   `json:"baseTraits"`
	Tasks       []TaskSpec `json:"tasks"`
}

// SilhouetteRequest asks for an SVG silhouette of the embryo.
type SilhouetteRequest struct {
	BaseTraits []string
	Mutations  []string
}

// FeedRequest asks whether a photo satisfies a task requirement.
// Debug selects the provider prompt that only asks for mutation narrative.
type FeedRequest struct {
	Requirement string
	Image       Image
	Debug       bool
	Locale      string
}

// FeedResult is the verification verdict.
type FeedResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	MutationEffect string `json:"mutationEffect,omitempty"`
}

// StatsRequest carries everything the final generation depends on.
type StatsRequest struct {
	BaseTraits  []string
	Mutations   []string
	Environment Environment
	Locale      string
}

// StatsResult is the final creature before its image exists.
type StatsResult struct {
	IsFailure   bool   `json:"isFailure"`
	FailureType string `json:"failureType"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Stats       Stats  `json:"stats"`
	ImagePrompt string `json:"imagePrompt"`
}

// Messages resolves user-facing feedback strings for a session's locale.
type Messages interface {
	Get(key string) string
}

// Feedback message keys.
const (
	MsgAnalyzeFailed  = "ANALYZE_FAILED"
	MsgVerifyFailed   = "VERIFY_FAILED"
	MsgVerifyRejected = "VERIFY_REJECTED"
	MsgHatchFailed    = "HATCH_FAILED"
	MsgDebugMarker    = "DEBUG_FORCED_PASS"
	MsgUnknownEffect  = "UNKNOWN_MUTATION"
)
