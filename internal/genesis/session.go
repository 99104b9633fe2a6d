// internal/genesis/session.go
//
// Flow controller for a single hatchery session.
// Responsibilities:
//   - Enforce the stage order intro → genesis → quest → hatching → reveal.
//   - Issue one provider request per transition and commit its result atomically.
//   - Roll back to the interactive stage and set a localized feedback message
//     when a request fails.
//
// Notes:
//   - Provider calls run without the session lock held. While a call is in flight
//     the session sits in an analyzing/hatching stage, so a second action on the
//     same session is rejected with ErrInvalidStage.
//   - Reset bumps an epoch counter; a call that returns after a reset discards its result.
package genesis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidStage    = errors.New("action not allowed in current stage")
	ErrTasksIncomplete = errors.New("not all tasks are completed")
	ErrTaskCompleted   = errors.New("task already completed")
	ErrMalformed       = errors.New("malformed provider response")
)

// Options are the per-session attributes fixed at creation.
type Options struct {
	Owner  string // user id or anonymous id
	Locale string
	Debug  bool
}

// Session holds all state of one play-through. It is safe for concurrent use.
type Session struct {
	ID     string
	Owner  string
	Locale string

	provider Provider
	msgs     Messages
	now      func() time.Time

	mu         sync.Mutex
	epoch      int
	stage      Stage
	worldview  *Worldview
	tasks      []Task
	mutations  []string
	silhouette string
	pet        *Pet
	feedback   string
	env        Environment
	debug      bool
	lastActive time.Time
}

// New creates a session in the intro stage.
func New(p Provider, msgs Messages, opts Options) *Session {
	if msgs == nil {
		msgs = keyMessages{}
	}
	s := &Session{
		ID:       uuid.NewString(),
		Owner:    opts.Owner,
		Locale:   opts.Locale,
		provider: p,
		msgs:     msgs,
		now:      time.Now,
		stage:    StageIntro,
		env:      DefaultEnvironment(),
		debug:    opts.Debug,
	}
	s.lastActive = s.now()
	return s
}

// Start leaves the intro screen.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.stage != StageIntro {
		return ErrInvalidStage
	}
	s.stage = StageGenesis
	return nil
}

// SubmitGenesis analyzes the base photo, producing the worldview, three tasks
// and the first silhouette. Nothing is committed unless both calls succeed.
func (s *Session) SubmitGenesis(ctx context.Context, img Image) error {
	s.mu.Lock()
	if s.stage != StageGenesis {
		s.mu.Unlock()
		return ErrInvalidStage
	}
	s.stage = StageAnalyzingGenesis
	epoch, locale := s.epoch, s.Locale
	s.touch()
	s.mu.Unlock()

	res, svg, err := s.analyze(ctx, img, locale)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if epoch != s.epoch {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("genesis analysis failed")
		s.feedback = s.msgs.Get(MsgAnalyzeFailed)
		s.stage = StageGenesis
		return nil
	}

	s.worldview = &Worldview{
		Theme:       res.Theme,
		Description: res.Description,
		BaseTraits:  append([]string(nil), res.BaseTraits...),
	}
	s.tasks = make([]Task, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		s.tasks = append(s.tasks, Task{ID: t.ID, Requirement: t.Requirement, Description: t.Description})
	}
	s.mutations = nil
	s.silhouette = svg
	s.feedback = ""
	s.stage = StageQuest
	return nil
}

func (s *Session) analyze(ctx context.Context, img Image, locale string) (*AnalyzeResult, string, error) {
	res, err := s.provider.AnalyzeGenesis(ctx, AnalyzeRequest{Image: img, Locale: locale})
	if err != nil {
		return nil, "", fmt.Errorf("analyze genesis: %w", err)
	}
	if res == nil || len(res.Tasks) != TaskCount {
		n := 0
		if res != nil {
			n = len(res.Tasks)
		}
		return nil, "", fmt.Errorf("%w: expected %d tasks, got %d", ErrMalformed, TaskCount, n)
	}
	seen := make(map[string]bool, len(res.Tasks))
	for _, t := range res.Tasks {
		if t.ID == "" || seen[t.ID] {
			return nil, "", fmt.Errorf("%w: empty or duplicate task id %q", ErrMalformed, t.ID)
		}
		seen[t.ID] = true
	}
	svg, err := s.provider.RenderSilhouette(ctx, SilhouetteRequest{BaseTraits: res.BaseTraits})
	if err != nil {
		return nil, "", fmt.Errorf("render silhouette: %w", err)
	}
	return res, svg, nil
}

// SubmitFeed verifies a task photo. An unknown task id is a silent no-op.
// debug forces success in addition to the session's own debug toggle.
func (s *Session) SubmitFeed(ctx context.Context, taskID string, img Image, debug bool) error {
	s.mu.Lock()
	if s.stage != StageQuest {
		s.mu.Unlock()
		return ErrInvalidStage
	}
	idx := s.taskIndex(taskID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	if s.tasks[idx].Completed {
		s.mu.Unlock()
		return ErrTaskCompleted
	}
	s.stage = StageAnalyzingFeed
	epoch, locale := s.epoch, s.Locale
	requirement := s.tasks[idx].Requirement
	debug = debug || s.debug
	s.touch()
	s.mu.Unlock()

	res, err := s.provider.VerifyFeed(ctx, FeedRequest{
		Requirement: requirement,
		Image:       img,
		Debug:       debug,
		Locale:      locale,
	})
	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty verification", ErrMalformed)
	}
	if err == nil && debug {
		res = s.forcePass(res)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	s.touch()
	if err != nil {
		log.Warn().Err(err).Str("session", s.ID).Str("task", taskID).Msg("feed verification failed")
		s.feedback = s.msgs.Get(MsgVerifyFailed)
		s.stage = StageQuest
		s.mu.Unlock()
		return nil
	}
	if !res.Success {
		s.feedback = res.Message
		if s.feedback == "" {
			s.feedback = s.msgs.Get(MsgVerifyRejected)
		}
		s.stage = StageQuest
		s.mu.Unlock()
		return nil
	}

	s.tasks[idx].Completed = true
	s.tasks[idx].MutationEffect = res.MutationEffect
	s.mutations = append(s.mutations, res.MutationEffect)
	s.feedback = res.Message
	traits := append([]string(nil), s.worldview.BaseTraits...)
	mutations := append([]string(nil), s.mutations...)
	s.mu.Unlock()

	svg, err := s.provider.RenderSilhouette(ctx, SilhouetteRequest{BaseTraits: traits, Mutations: mutations})

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return nil
	}
	s.touch()
	if err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("silhouette re-render failed")
		s.feedback = s.msgs.Get(MsgVerifyFailed)
	} else {
		s.silhouette = svg
	}
	s.stage = StageQuest
	return nil
}

// forcePass turns a provider verdict into a success, keeping its narrative.
func (s *Session) forcePass(res *FeedResult) *FeedResult {
	effect := res.MutationEffect
	if effect == "" {
		effect = s.msgs.Get(MsgUnknownEffect)
	}
	return &FeedResult{
		Success:        true,
		Message:        s.msgs.Get(MsgDebugMarker) + res.Message,
		MutationEffect: effect,
	}
}

// Hatch generates the final creature. Requires every task to be completed.
func (s *Session) Hatch(ctx context.Context) error {
	s.mu.Lock()
	if s.stage != StageQuest {
		s.mu.Unlock()
		return ErrInvalidStage
	}
	if !s.allCompleted() {
		s.mu.Unlock()
		return ErrTasksIncomplete
	}
	s.stage = StageHatching
	epoch := s.epoch
	req := StatsRequest{
		BaseTraits:  append([]string(nil), s.worldview.BaseTraits...),
		Mutations:   append([]string(nil), s.mutations...),
		Environment: s.env,
		Locale:      s.Locale,
	}
	s.touch()
	s.mu.Unlock()

	pet, err := s.hatch(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return nil
	}
	s.touch()
	if err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("hatch failed")
		s.feedback = s.msgs.Get(MsgHatchFailed)
		s.stage = StageQuest
		return nil
	}
	s.pet = pet
	s.feedback = ""
	s.stage = StageReveal
	return nil
}

func (s *Session) hatch(ctx context.Context, req StatsRequest) (*Pet, error) {
	stats, err := s.provider.FinalStats(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("final stats: %w", err)
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: empty stats", ErrMalformed)
	}
	img, err := s.provider.FinalImage(ctx, stats.ImagePrompt)
	if err != nil {
		return nil, fmt.Errorf("final image: %w", err)
	}
	return &Pet{
		Name:        stats.Name,
		Description: stats.Description,
		ImageURL:    img,
		Stats:       stats.Stats,
		IsFailure:   stats.IsFailure,
		FailureType: stats.FailureType,
	}, nil
}

// Reset discards all generated content and returns to intro.
// Environment, locale and the debug toggle are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.stage = StageIntro
	s.worldview = nil
	s.tasks = nil
	s.mutations = nil
	s.silhouette = ""
	s.pet = nil
	s.feedback = ""
	s.touch()
}

// SetEnvironment replaces the hatch context.
func (s *Session) SetEnvironment(env Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
	s.touch()
}

// SetDebug toggles forced task verification.
func (s *Session) SetDebug(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = on
	s.touch()
}

// LastActive reports when the session was last touched by any action.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// CanHatch reports whether the hatch action is available.
func (s *Session) CanHatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage == StageQuest && len(s.tasks) > 0 && s.allCompleted()
}

func (s *Session) allCompleted() bool {
	for _, t := range s.tasks {
		if !t.Completed {
			return false
		}
	}
	return true
}

func (s *Session) taskIndex(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) touch() { s.lastActive = s.now() }

// keyMessages returns the message key itself; used when no catalog is wired.
type keyMessages struct{}

func (keyMessages) Get(key string) string { return key }
