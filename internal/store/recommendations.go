package store

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "local-search-mcp/internal/errors"
)

// RecommendationRepository owns the search_recommendations,
// recommendation_effectiveness, and learning_parameters tables. It is a
// pure persistence facade; the TF-IDF analysis and EWMA learning logic
// live in internal/recommend.
type RecommendationRepository struct {
	db *DB
}

// NewRecommendationRepository builds a repository over an already-open DB.
func NewRecommendationRepository(db *DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// ensureLearningParameters seeds the singleton row with the spec's defaults
// on first access: threshold=0.25, all strategy weights=1.0, rate=0.05.
func (db *DB) ensureLearningParameters(ctx context.Context) error {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM learning_parameters WHERE id = 1").Scan(&count); err != nil {
		return apperrors.Storage("checking learning parameters", err)
	}
	if count > 0 {
		return nil
	}

	weights, _ := json.Marshal(map[string]float64{
		"TERM_REMOVAL":       1.0,
		"TERM_REFINEMENT":    1.0,
		"CONTEXTUAL_ADDITION": 1.0,
	})
	history, _ := json.Marshal([]float64{})

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO learning_parameters (id, tfidf_threshold, effectiveness_history, strategy_weights, learning_rate, last_updated)
		VALUES (1, 0.25, ?, ?, 0.05, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	`, string(history), string(weights))
	if err != nil {
		return apperrors.Storage("seeding learning parameters", err)
	}
	return nil
}

// SaveRecommendation persists a new recommendation row and returns its ID.
func (r *RecommendationRepository) SaveRecommendation(ctx context.Context, rec Recommendation) (int64, error) {
	terms, err := json.Marshal(rec.SuggestedTerms)
	if err != nil {
		return 0, apperrors.Input("encoding suggested terms", err)
	}

	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO search_recommendations
			(query, suggested_terms, strategy, tfidf_threshold, confidence, generated_at, expires_at, total_documents, analyzed_documents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Query, string(terms), rec.Strategy, rec.TFIDFThreshold, rec.Confidence,
		rec.GeneratedAt, rec.ExpiresAt, rec.TotalDocuments, rec.AnalyzedDocuments)
	if err != nil {
		return 0, apperrors.Storage("saving recommendation", err)
	}
	return res.LastInsertId()
}

// CurrentRecommendation returns the most recent non-expired recommendation
// for query, or nil if none exists. now is injected for testability.
func (r *RecommendationRepository) CurrentRecommendation(ctx context.Context, query string, now string) (*Recommendation, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, query, suggested_terms, strategy, tfidf_threshold, confidence, generated_at, expires_at, total_documents, analyzed_documents
		FROM search_recommendations
		WHERE query = ? AND expires_at > ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, query, now)

	var rec Recommendation
	var terms string
	err := row.Scan(&rec.ID, &rec.Query, &terms, &rec.Strategy, &rec.TFIDFThreshold, &rec.Confidence,
		&rec.GeneratedAt, &rec.ExpiresAt, &rec.TotalDocuments, &rec.AnalyzedDocuments)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage("fetching recommendation", err)
	}
	if err := json.Unmarshal([]byte(terms), &rec.SuggestedTerms); err != nil {
		return nil, apperrors.Storage("decoding suggested terms", err)
	}
	return &rec, nil
}

// RecordEffectiveness appends an effectiveness event for a recommendation.
func (r *RecommendationRepository) RecordEffectiveness(ctx context.Context, e Effectiveness) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO recommendation_effectiveness
			(recommendation_id, was_used, improved_results, usage_time, effectiveness_score, original_result_count, improved_result_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RecommendationID, e.WasUsed, e.ImprovedResults, e.UsageTime, e.EffectivenessScore,
		e.OriginalResultCount, e.ImprovedResultCount)
	if err != nil {
		return 0, apperrors.Storage("recording effectiveness", err)
	}
	return res.LastInsertId()
}

// LoadLearningParameters reads the singleton learning_parameters row.
func (r *RecommendationRepository) LoadLearningParameters(ctx context.Context) (*LearningParameters, error) {
	var p LearningParameters
	var history, weights string
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT tfidf_threshold, effectiveness_history, strategy_weights, learning_rate, last_updated
		FROM learning_parameters WHERE id = 1
	`).Scan(&p.TFIDFThreshold, &history, &weights, &p.LearningRate, &p.LastUpdated)
	if err != nil {
		return nil, apperrors.Storage("loading learning parameters", err)
	}
	if err := json.Unmarshal([]byte(history), &p.EffectivenessHistory); err != nil {
		return nil, apperrors.Storage("decoding effectiveness history", err)
	}
	if err := json.Unmarshal([]byte(weights), &p.StrategyWeights); err != nil {
		return nil, apperrors.Storage("decoding strategy weights", err)
	}
	return &p, nil
}

// SaveLearningParameters overwrites the singleton row.
func (r *RecommendationRepository) SaveLearningParameters(ctx context.Context, p LearningParameters) error {
	history, err := json.Marshal(p.EffectivenessHistory)
	if err != nil {
		return apperrors.Input("encoding effectiveness history", err)
	}
	weights, err := json.Marshal(p.StrategyWeights)
	if err != nil {
		return apperrors.Input("encoding strategy weights", err)
	}

	_, err = r.db.conn.ExecContext(ctx, `
		UPDATE learning_parameters
		SET tfidf_threshold = ?, effectiveness_history = ?, strategy_weights = ?, learning_rate = ?, last_updated = ?
		WHERE id = 1
	`, p.TFIDFThreshold, string(history), string(weights), p.LearningRate, p.LastUpdated)
	if err != nil {
		return apperrors.Storage("saving learning parameters", err)
	}
	return nil
}
