// Package store implements the vector-extended SQLite persistence layer
// (component C5) plus the recommendation/learning tables it shares a
// database file with (components C6/C7).
package store

import "fmt"

// Document mirrors the documents table: one row per indexed source file.
type Document struct {
	FilePath     string
	FileName     string
	LastModified int64
	TotalChunks  int
	TotalTokens  int
	CreatedAt    string
	UpdatedAt    string
}

// ChunkRecord is a chunk as stored in vec_chunks, including its embedding.
type ChunkRecord struct {
	ChunkID     string
	FilePath    string
	ChunkIndex  int
	Content     string
	ChunkOffset int
	TokenCount  int
	CreatedAt   string
	Embedding   []float32
}

// SearchHit is a chunk returned from a KNN query, embedding omitted.
type SearchHit struct {
	ChunkID     string
	FilePath    string
	ChunkIndex  int
	Content     string
	ChunkOffset int
	TokenCount  int
	Distance    float64
	Score       float64
}

// ChunkID builds the canonical "<file_path>:<chunk_index>" identifier.
func ChunkID(filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", filePath, chunkIndex)
}

// Recommendation mirrors search_recommendations.
type Recommendation struct {
	ID                int64
	Query             string
	SuggestedTerms    []string
	Strategy          string
	TFIDFThreshold    float64
	Confidence        float64
	GeneratedAt       string
	ExpiresAt         string
	TotalDocuments    int
	AnalyzedDocuments int
}

// Effectiveness mirrors recommendation_effectiveness.
type Effectiveness struct {
	ID                  int64
	RecommendationID    int64
	WasUsed             bool
	ImprovedResults     *bool
	UsageTime           string
	EffectivenessScore  float64
	OriginalResultCount int
	ImprovedResultCount *int
}

// LearningParameters mirrors the learning_parameters singleton row.
type LearningParameters struct {
	TFIDFThreshold       float64
	EffectivenessHistory []float64
	StrategyWeights      map[string]float64
	LearningRate         float64
	LastUpdated          string
}
