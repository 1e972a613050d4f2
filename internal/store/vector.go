package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	apperrors "local-search-mcp/internal/errors"
)

// VectorStore is the chunk/document persistence facade (component C5). It
// wraps the shared DB connection but never touches the recommendation
// tables, matching the spec's ownership split.
type VectorStore struct {
	db *DB
}

// NewVectorStore builds a VectorStore over an already-open DB.
func NewVectorStore(db *DB) *VectorStore {
	return &VectorStore{db: db}
}

// StoreChunks atomically replaces every chunk belonging to filePath with
// the given set, and upserts the owning document row. The whole batch
// commits or none of it does.
func (v *VectorStore) StoreChunks(ctx context.Context, doc Document, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return apperrors.Input("store_chunks requires at least one chunk", nil)
	}
	for _, c := range chunks {
		if len(c.Embedding) != v.db.dim {
			return apperrors.Input(fmt.Sprintf(
				"embedding length %d does not match store dimension %d", len(c.Embedding), v.db.dim,
			), nil)
		}
	}

	return v.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (file_path, file_name, last_modified, total_chunks, total_tokens, updated_at)
			VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			ON CONFLICT(file_path) DO UPDATE SET
				file_name = excluded.file_name,
				last_modified = excluded.last_modified,
				total_chunks = excluded.total_chunks,
				total_tokens = excluded.total_tokens,
				updated_at = excluded.updated_at
		`, doc.FilePath, doc.FileName, doc.LastModified, len(chunks), sumTokens(chunks)); err != nil {
			return apperrors.Storage("upserting document", err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE file_path = ?", doc.FilePath); err != nil {
			return apperrors.Storage("clearing prior chunks", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vec_chunks (chunk_id, embedding, file_path, chunk_index, content, chunk_offset, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		`)
		if err != nil {
			return apperrors.Storage("preparing chunk insert", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			id := c.ChunkID
			if id == "" {
				id = ChunkID(doc.FilePath, c.ChunkIndex)
			}
			if _, err := stmt.ExecContext(ctx, id, serializeFloat32(c.Embedding), doc.FilePath,
				c.ChunkIndex, c.Content, c.ChunkOffset, c.TokenCount); err != nil {
				return apperrors.Storage("inserting chunk", err)
			}
		}
		return nil
	})
}

// SearchSimilar runs a KNN query via sqlite-vec's MATCH operator, returning
// up to limit hits with score >= minScore after the distance-to-score
// mapping is applied (see DESIGN.md's resolution of the similarity-metric
// open question: embeddings are unit-normalized and sqlite-vec's default L2
// distance maps to score = 1 - distance/2, which falls as distance grows; it
// is not the cosine similarity itself, which is 1 - distance²/2).
func (v *VectorStore) SearchSimilar(ctx context.Context, query []float32, k, limit int, minScore float64) ([]SearchHit, error) {
	if len(query) != v.db.dim {
		return nil, apperrors.Input(fmt.Sprintf(
			"query embedding length %d does not match store dimension %d", len(query), v.db.dim,
		), nil)
	}
	if k <= 0 {
		k = limit
	}

	rows, err := v.db.conn.QueryContext(ctx, `
		SELECT chunk_id, file_path, chunk_index, content, chunk_offset, token_count, distance
		FROM vec_chunks
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance ASC, file_path ASC, chunk_index ASC
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, apperrors.Storage("running KNN search", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ChunkID, &h.FilePath, &h.ChunkIndex, &h.Content,
			&h.ChunkOffset, &h.TokenCount, &h.Distance); err != nil {
			return nil, apperrors.Storage("scanning search row", err)
		}
		h.Score = 1 - h.Distance/2
		if h.Score >= minScore {
			hits = append(hits, h)
		}
		if len(hits) >= limit {
			break
		}
	}
	return hits, rows.Err()
}

// GetFileChunks returns every chunk for filePath, ordered by chunk_index.
func (v *VectorStore) GetFileChunks(ctx context.Context, filePath string) ([]ChunkRecord, error) {
	rows, err := v.db.conn.QueryContext(ctx, `
		SELECT chunk_id, file_path, chunk_index, content, chunk_offset, token_count, created_at
		FROM vec_chunks WHERE file_path = ? ORDER BY chunk_index ASC
	`, filePath)
	if err != nil {
		return nil, apperrors.Storage("listing file chunks", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ChunkID, &c.FilePath, &c.ChunkIndex, &c.Content,
			&c.ChunkOffset, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, apperrors.Storage("scanning chunk row", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetDocument returns the document row for filePath, or nil if absent.
func (v *VectorStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	var d Document
	err := v.db.conn.QueryRowContext(ctx, `
		SELECT file_path, file_name, last_modified, total_chunks, total_tokens, created_at, updated_at
		FROM documents WHERE file_path = ?
	`, filePath).Scan(&d.FilePath, &d.FileName, &d.LastModified, &d.TotalChunks, &d.TotalTokens, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage("fetching document", err)
	}
	return &d, nil
}

// DeleteFile removes a document and its chunks in one transaction,
// returning the number of chunk rows removed.
func (v *VectorStore) DeleteFile(ctx context.Context, filePath string) (int, error) {
	var affected int
	err := v.db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE file_path = ?", filePath)
		if err != nil {
			return apperrors.Storage("deleting chunks", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperrors.Storage("reading delete count", err)
		}
		affected = int(n)

		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE file_path = ?", filePath); err != nil {
			return apperrors.Storage("deleting document", err)
		}
		return nil
	})
	return affected, err
}

// Clear truncates vec_chunks, documents, recommendations, and effectiveness.
// learning_parameters survives so adaptive tuning is not reset by a flush.
func (v *VectorStore) Clear(ctx context.Context) error {
	return v.db.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"vec_chunks", "documents", "recommendation_effectiveness", "search_recommendations",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return apperrors.Storage("clearing "+table, err)
			}
		}
		return nil
	})
}

// Statistics reports aggregate counts used by get_statistics-style tools.
type Statistics struct {
	TotalFiles  int
	TotalChunks int
}

// Statistics returns the current document/chunk counts.
func (v *VectorStore) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	if err := v.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&s.TotalFiles); err != nil {
		return s, apperrors.Storage("counting documents", err)
	}
	if err := v.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_chunks").Scan(&s.TotalChunks); err != nil {
		return s, apperrors.Storage("counting chunks", err)
	}
	return s, nil
}

func sumTokens(chunks []ChunkRecord) int {
	total := 0
	for _, c := range chunks {
		total += c.TokenCount
	}
	return total
}

// serializeFloat32 packs a float32 slice into the little-endian byte buffer
// sqlite-vec expects for a MATCH argument or embedding column value.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
