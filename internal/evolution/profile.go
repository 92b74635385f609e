package evolution

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/forgebench/forgebench/internal/benchmark"
	"github.com/forgebench/forgebench/internal/versioning"
)

// Profile is a generational bundle of orchestrator tuning knobs: the
// config and prompt-modifier set a run was driven with. Unlike an
// Experiment, which compares two fixed sample sets, a Profile population
// evolves across generations by mutating the prior generation's winners.
type Profile struct {
	ID               string   `json:"id"`
	Generation       int      `json:"generation"`
	ParentID         string   `json:"parent_id,omitempty"`
	MaxTurns         int      `json:"max_turns"`
	MaxVerifyRetries int      `json:"max_verify_retries"`
	ModelTier        string   `json:"model_tier"`
	PromptModifiers  []string `json:"prompt_modifiers,omitempty"`
}

// ProfileFitnessWeights weights a profile's pass rate, turn and token
// efficiency, and speed across a benchmark run.
type ProfileFitnessWeights struct {
	PassRate    float64
	TurnEfficiency  float64
	TokenEfficiency float64
	Speed           float64
}

// DefaultProfileFitnessWeights is weighted most heavily toward
// correctness (pass rate).
func DefaultProfileFitnessWeights() ProfileFitnessWeights {
	return ProfileFitnessWeights{PassRate: 0.55, TurnEfficiency: 0.15, TokenEfficiency: 0.15, Speed: 0.15}
}

// ProfileResult is one generation member's evaluated performance.
type ProfileResult struct {
	Profile        Profile            `json:"profile"`
	Aggregate      benchmark.Aggregate `json:"aggregate"`
	AvgTurns       float64            `json:"avg_turns"`
	AvgTokens      float64            `json:"avg_tokens"`
	AvgDurationMs  float64            `json:"avg_duration_ms"`
	Fitness        float64            `json:"fitness"`
}

// computeProfileFitness normalizes the four components to 0-1:
// turns/tokens/duration are
// inversely scaled against a practical worst case, and the weighted sum
// is clamped to [0, 1].
func computeProfileFitness(w ProfileFitnessWeights, passRate, avgTurns, avgTokens, avgDurationMs float64) float64 {
	passComponent := passRate

	// Fewer turns is better. 1 turn = perfect, 30+ turns = worst.
	turnComponent := 1.0 - math.Min(avgTurns/30.0, 1.0)

	// Fewer tokens is better, log-scaled. 1 token = perfect, 100k+ = worst.
	tokenComponent := 1.0 - math.Min(math.Log10(math.Max(avgTokens, 1))/5.0, 1.0)

	// Faster is better. <1s = perfect, >60s = worst.
	speedComponent := 1.0 - math.Min(avgDurationMs/60000.0, 1.0)

	fitness := w.PassRate*passComponent +
		w.TurnEfficiency*turnComponent +
		w.TokenEfficiency*tokenComponent +
		w.Speed*speedComponent

	return math.Max(0, math.Min(1, fitness))
}

// Tuner evolves a population of Profiles across generations, using a
// benchmark suite's aggregate pass rate (plus turn/token/duration
// efficiency) as the fitness signal. It wires versioning.Controller as
// the auto-rollback safety net: a profile promoted from one generation to
// the next is registered as an observed change, and if real-world runs
// degrade its quality relative to the profile it replaced, ObserveRun
// reports it for rollback to the parent.
type Tuner struct {
	mu         sync.RWMutex
	weights    ProfileFitnessWeights
	nextID     int
	rng        *rand.Rand
	candidates []string // prompt modifier candidate pool for mutation
	versioning *versioning.Controller
}

// NewTuner creates a tuner seeded for deterministic mutation. Pass a fixed
// seed in tests; production callers can seed from a time-derived value.
func NewTuner(seed int64, versioningController *versioning.Controller) *Tuner {
	return &Tuner{
		weights: DefaultProfileFitnessWeights(),
		rng:     rand.New(rand.NewSource(seed)),
		candidates: []string{
			"think-step-by-step",
			"prefer-minimal-diffs",
			"verify-before-complete",
			"read-before-write",
			"cite-file-paths",
		},
		versioning: versioningController,
	}
}

// SetWeights overrides the default fitness weighting.
func (t *Tuner) SetWeights(w ProfileFitnessWeights) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights = w
}

// Seed creates generation-0 Profile with the given base knobs.
func (t *Tuner) Seed(maxTurns, maxVerifyRetries int, modelTier string, modifiers []string) Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return Profile{
		ID:               fmt.Sprintf("profile_%d", t.nextID),
		Generation:       0,
		MaxTurns:         maxTurns,
		MaxVerifyRetries: maxVerifyRetries,
		ModelTier:        modelTier,
		PromptModifiers:  append([]string(nil), modifiers...),
	}
}

// Evaluate scores one profile's benchmark run.
func (t *Tuner) Evaluate(profile Profile, agg benchmark.Aggregate, metrics []benchmark.TaskMetrics) ProfileResult {
	t.mu.RLock()
	w := t.weights
	t.mu.RUnlock()

	var turnSum, tokenSum, durSum float64
	n := float64(len(metrics))
	for _, m := range metrics {
		turnSum += float64(m.Turns)
		tokenSum += float64(m.Tokens)
		durSum += float64(m.DurationMs)
	}
	avgTurns, avgTokens, avgDuration := 0.0, 0.0, 0.0
	if n > 0 {
		avgTurns = turnSum / n
		avgTokens = tokenSum / n
		avgDuration = durSum / n
	}

	fitness := computeProfileFitness(w, agg.PassRate, avgTurns, avgTokens, avgDuration)
	return ProfileResult{
		Profile:       profile,
		Aggregate:     agg,
		AvgTurns:      avgTurns,
		AvgTokens:     avgTokens,
		AvgDurationMs: avgDuration,
		Fitness:       fitness,
	}
}

// NextGeneration ranks results by fitness, keeps the top half as parents,
// and produces populationSize children by mutating each parent in turn
// (wrapping around if populationSize exceeds the parent count). Results
// must be non-empty.
func (t *Tuner) NextGeneration(results []ProfileResult, populationSize int) []Profile {
	if len(results) == 0 || populationSize <= 0 {
		return nil
	}

	ranked := append([]ProfileResult(nil), results...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })

	keep := (len(ranked) + 1) / 2
	if keep < 1 {
		keep = 1
	}
	parents := ranked[:keep]

	children := make([]Profile, 0, populationSize)
	for i := 0; i < populationSize; i++ {
		parent := parents[i%len(parents)].Profile
		children = append(children, t.mutate(parent))
	}
	return children
}

// mutate produces one child profile from parent by applying exactly one
// of: a small jitter on MaxTurns, a +/-1 on MaxVerifyRetries, or a single
// add-or-remove on the prompt modifier set.
func (t *Tuner) mutate(parent Profile) Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++

	child := Profile{
		ID:               fmt.Sprintf("profile_%d", t.nextID),
		Generation:        parent.Generation + 1,
		ParentID:         parent.ID,
		MaxTurns:         parent.MaxTurns,
		MaxVerifyRetries: parent.MaxVerifyRetries,
		ModelTier:        parent.ModelTier,
		PromptModifiers:  append([]string(nil), parent.PromptModifiers...),
	}

	switch t.rng.Intn(3) {
	case 0:
		child.MaxTurns += t.rng.Intn(5) - 2 // -2..+2
		if child.MaxTurns < 1 {
			child.MaxTurns = 1
		}
	case 1:
		delta := t.rng.Intn(3) - 1 // -1, 0, +1
		child.MaxVerifyRetries += delta
		if child.MaxVerifyRetries < 0 {
			child.MaxVerifyRetries = 0
		}
	case 2:
		child.PromptModifiers = t.mutateModifiers(child.PromptModifiers)
	}
	return child
}

func (t *Tuner) mutateModifiers(modifiers []string) []string {
	if t.rng.Intn(2) == 0 && len(t.candidates) > 0 {
		candidate := t.candidates[t.rng.Intn(len(t.candidates))]
		for _, m := range modifiers {
			if m == candidate {
				return modifiers
			}
		}
		return append(modifiers, candidate)
	}
	if len(modifiers) == 0 {
		return modifiers
	}
	drop := t.rng.Intn(len(modifiers))
	out := append([]string(nil), modifiers[:drop]...)
	return append(out, modifiers[drop+1:]...)
}

// RegisterForObservation records a promoted profile as a versioning change
// against the profile it replaced, so a subsequent run of degraded real
// quality triggers automatic rollback to the parent.
func (t *Tuner) RegisterForObservation(profile Profile, baselineFitness, baselineAvgTokens float64) *versioning.Change {
	if t.versioning == nil {
		return nil
	}
	return t.versioning.RecordChange(
		versioning.ChangeProfile,
		profile.ID,
		fmt.Sprintf("promoted profile generation %d from parent %s", profile.Generation, profile.ParentID),
		baselineFitness,
		baselineAvgTokens,
		profile.ParentID,
	)
}

// ObserveRun feeds one real benchmark run's quality/cost back into every
// active observation window for profileID, returning change IDs that
// should be rolled back to their parent.
func (t *Tuner) ObserveRun(profileID string, fitness, avgTokens float64) []string {
	if t.versioning == nil {
		return nil
	}
	return t.versioning.ObserveRun(profileID, fitness, avgTokens)
}
