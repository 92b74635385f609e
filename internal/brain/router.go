package brain

// Package-level model catalog consulted by internal/microtask's FMWorker
// when a run has a daily/monthly budget ceiling configured. FMWorker asks
// Select for a model name on every call instead of hard-coding one; the
// router downgrades to a cheaper tier as the run's remaining budget shrinks
// so a long benchmark suite degrades gracefully instead of hitting
// ErrBudgetExceeded partway through.

// Tier ranks a model's cost/capability bracket.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierMid      Tier = "mid"
	TierPowerful Tier = "powerful"
)

// ModelEntry is one catalog row: a model ID, the provider that serves it,
// its tier, and an approximate blended cost per 1K tokens used only to
// document the catalog (Select doesn't do per-token math itself — that's
// budget.Tracker's job from the actual provider response cost).
type ModelEntry struct {
	ID        string // e.g. "claude-haiku-3-5-20241022"
	Provider  string // e.g. "claude", "openai"
	Tier      Tier
	CostPer1K float64
}

// ModelRouter picks a model name for an FM worker call given the task's
// rated complexity and the run's remaining budget headroom.
type ModelRouter struct {
	models   []ModelEntry
	provider string // active provider filter ("claude", "openai", or "" for any)
}

// NewModelRouter creates a router seeded with forgebench's default catalog.
func NewModelRouter() *ModelRouter {
	return &ModelRouter{
		models: []ModelEntry{
			{ID: "claude-haiku-3-5-20241022", Provider: "claude", Tier: TierCheap, CostPer1K: 0.00075},
			{ID: "gpt-4o-mini", Provider: "openai", Tier: TierCheap, CostPer1K: 0.000375},
			{ID: "claude-sonnet-4-20250514", Provider: "claude", Tier: TierMid, CostPer1K: 0.009},
			{ID: "gpt-4o", Provider: "openai", Tier: TierMid, CostPer1K: 0.00625},
			{ID: "claude-opus-4-20250514", Provider: "claude", Tier: TierPowerful, CostPer1K: 0.045},
			{ID: "gpt-4.1", Provider: "openai", Tier: TierPowerful, CostPer1K: 0.030},
		},
	}
}

// NewModelRouterWithModels creates a router with a caller-supplied catalog,
// for suites that pin their own model roster instead of forgebench's default.
func NewModelRouterWithModels(models []ModelEntry) *ModelRouter {
	return &ModelRouter{models: models}
}

// SetProvider restricts Select to models served by provider ("claude",
// "openai", ...). Pass "" to consider the whole catalog again. FMWorker's
// caller sets this once, from the same provider the run's LLMProvider
// implementation was built for, so downgrades never cross providers.
func (r *ModelRouter) SetProvider(provider string) {
	r.provider = provider
}

// Provider returns the active provider filter.
func (r *ModelRouter) Provider() string {
	return r.provider
}

// Select returns a model ID for a call of the given complexity rating
// ("simple", "moderate", "complex") given budgetRemaining USD of headroom.
// Tight budgets force a downgrade regardless of what the task asked for:
// under $0.10 remaining, everything runs on the cheap tier; under $1.00,
// a complex-rated task is capped at mid instead of powerful.
func (r *ModelRouter) Select(complexity string, budgetRemaining float64) string {
	tier := complexityToTier(complexity)

	switch {
	case budgetRemaining < 0.10:
		tier = TierCheap
	case budgetRemaining < 1.0 && tier == TierPowerful:
		tier = TierMid
	}

	if id := r.pickTier(tier); id != "" {
		return id
	}
	for _, fallback := range tierFallback(tier) {
		if id := r.pickTier(fallback); id != "" {
			return id
		}
	}

	// Nothing in the requested tier chain matched the provider filter —
	// hand back whatever the catalog has rather than an empty model name.
	for _, m := range r.models {
		if r.matchesProvider(m) {
			return m.ID
		}
	}
	if len(r.models) > 0 {
		return r.models[0].ID
	}
	return ""
}

// pickTier returns the first catalog entry matching tier and the active
// provider filter, or "" if none qualify.
func (r *ModelRouter) pickTier(tier Tier) string {
	for _, m := range r.models {
		if r.matchesProvider(m) && m.Tier == tier {
			return m.ID
		}
	}
	return ""
}

func (r *ModelRouter) matchesProvider(m ModelEntry) bool {
	return r.provider == "" || m.Provider == r.provider
}

// complexityToTier maps the --task-complexity rating to a starting tier
// before budget pressure is applied.
func complexityToTier(complexity string) Tier {
	switch complexity {
	case "simple":
		return TierCheap
	case "moderate":
		return TierMid
	case "complex":
		return TierPowerful
	default:
		return TierMid
	}
}

// tierFallback orders the tiers to try next when the preferred tier has no
// entry for the active provider: powerful falls back to mid then cheap,
// mid to cheap then powerful, and cheap to mid then powerful.
func tierFallback(tier Tier) []Tier {
	switch tier {
	case TierPowerful:
		return []Tier{TierMid, TierCheap}
	case TierMid:
		return []Tier{TierCheap, TierPowerful}
	case TierCheap:
		return []Tier{TierMid, TierPowerful}
	default:
		return []Tier{TierCheap, TierMid, TierPowerful}
	}
}
