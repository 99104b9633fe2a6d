package genesis

// View is a point-in-time copy of a session, safe to serialize.
type View struct {
	ID         string      `json:"id"`
	Stage      Stage       `json:"stage"`
	Worldview  *Worldview  `json:"worldview"`
	Tasks      []Task      `json:"tasks"`
	Mutations  []string    `json:"mutations"`
	Silhouette string      `json:"silhouette,omitempty"`
	Pet        *Pet        `json:"pet"`
	Feedback   string      `json:"feedback,omitempty"`
	Env        Environment `json:"environment"`
	Debug      bool        `json:"debug"`
	CanHatch   bool        `json:"canHatch"`
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.ID,
		Stage:      s.stage,
		Tasks:      append([]Task{}, s.tasks...),
		Mutations:  append([]string{}, s.mutations...),
		Silhouette: s.silhouette,
		Feedback:   s.feedback,
		Env:        s.env,
		Debug:      s.debug,
		CanHatch:   s.stage == StageQuest && len(s.tasks) > 0 && s.allCompleted(),
	}
	if s.worldview != nil {
		wv := *s.worldview
		wv.BaseTraits = append([]string{}, s.worldview.BaseTraits...)
		v.Worldview = &wv
	}
	if s.pet != nil {
		p := *s.pet
		v.Pet = &p
	}
	return v
}
