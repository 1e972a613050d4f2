package recommend

import (
	"context"
	"math"
	"time"

	"local-search-mcp/internal/store"
)

// maxEffectivenessHistory bounds the history slice the learner keeps.
const maxEffectivenessHistory = 1000

// ewmaAlpha weights recent effectiveness scores when adapting the TF-IDF
// threshold.
const ewmaAlpha = 0.1

// recentWindow and varianceWindow are how many of the most recent history
// entries feed the threshold and learning-rate adaptations respectively.
const recentWindow = 20
const varianceWindow = 30

// Learner applies effectiveness feedback to the persisted learning
// parameters (component C7): it nudges per-strategy weights, the TF-IDF
// threshold, and the learning rate itself after every recorded outcome.
type Learner struct {
	repo *store.RecommendationRepository
	now  func() time.Time
}

// NewLearner builds a Learner backed by repo.
func NewLearner(repo *store.RecommendationRepository) *Learner {
	return &Learner{repo: repo, now: time.Now}
}

// RecordOutcome appends score to the effectiveness history for strategy and
// re-derives the strategy weights, TF-IDF threshold, and learning rate.
func (l *Learner) RecordOutcome(ctx context.Context, strategy Strategy, score float64) error {
	params, err := l.repo.LoadLearningParameters(ctx)
	if err != nil {
		return err
	}

	history := append(params.EffectivenessHistory, score)
	if len(history) > maxEffectivenessHistory {
		history = history[len(history)-maxEffectivenessHistory:]
	}
	params.EffectivenessHistory = history

	adjustWeight(params.StrategyWeights, string(strategy), score, params.LearningRate)

	params.TFIDFThreshold = adaptThreshold(params.TFIDFThreshold, recentScores(history, recentWindow))
	params.LearningRate = adaptLearningRate(params.LearningRate, recentScores(history, varianceWindow))
	params.LastUpdated = l.now().UTC().Format(time.RFC3339Nano)

	return l.repo.SaveLearningParameters(ctx, *params)
}

// adjustWeight nudges strategy's weight toward scores above 0.5 and away
// from scores below it, then renormalizes so the mean weight stays 1.0.
func adjustWeight(weights map[string]float64, strategy string, score, learningRate float64) {
	if weights == nil {
		return
	}
	delta := clamp(((score - 0.5) * learningRate), -0.1, 0.1)
	weights[strategy] = clamp(weights[strategy]+delta, 0.1, 3.0)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 || len(weights) == 0 {
		return
	}
	mean := sum / float64(len(weights))
	if mean == 0 {
		return
	}
	for k, w := range weights {
		weights[k] = w / mean
	}
}

// adaptThreshold applies an EWMA over recent scores: a consistently strong
// track record tightens the threshold, a weak one loosens it.
func adaptThreshold(threshold float64, recent []float64) float64 {
	if len(recent) == 0 {
		return threshold
	}
	avg := ewma(recent, ewmaAlpha)
	switch {
	case avg > 0.7:
		threshold -= 0.02
	case avg < 0.3:
		threshold += 0.02
	}
	return clamp(threshold, 0.1, 0.5)
}

// adaptLearningRate raises the rate when recent outcomes are stable (low
// variance) and lowers it when they are volatile (high variance).
func adaptLearningRate(rate float64, recent []float64) float64 {
	if len(recent) < 2 {
		return rate
	}
	v := variance(recent)
	switch {
	case v < 0.1:
		rate += 0.01
	case v > 0.3:
		rate -= 0.01
	}
	return clamp(rate, 0.01, 0.1)
}

func recentScores(history []float64, window int) []float64 {
	if len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

func ewma(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := values[0]
	for _, v := range values[1:] {
		avg = alpha*v + (1-alpha)*avg
	}
	return avg
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(values))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
