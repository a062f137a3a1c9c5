package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL.
// Derived-field writes are single-row updates keyed by document ID, so
// workers of different kinds never contend on the same columns.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, title, abstract, raw_metadata,
	embedding, embedding_model, map_x, map_y, map_version,
	venue, citation_count, topics, institution, meta_version,
	created_at, updated_at`

// Save creates or updates a document's source fields. Derived fields are
// deliberately left out of the upsert: they belong to the workers.
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	var rawJSON []byte
	if doc.RawMetadata != nil {
		var err error
		rawJSON, err = json.Marshal(doc.RawMetadata)
		if err != nil {
			return fmt.Errorf("marshal raw metadata: %w", err)
		}
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = time.Now()

	query := `
		INSERT INTO documents (id, title, abstract, raw_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			abstract = EXCLUDED.abstract,
			raw_metadata = EXCLUDED.raw_metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Abstract,
		rawJSON,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// Get retrieves a document by ID.
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// GetBatch retrieves documents by ID; missing IDs are simply absent.
func (s *DocumentStore) GetBatch(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	if len(ids) == 0 {
		return map[string]*domain.Document{}, nil
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SetEmbedding writes a document's embedding and producing model tag.
func (s *DocumentStore) SetEmbedding(ctx context.Context, id string, vector []float32, model string) error {
	query := `
		UPDATE documents
		SET embedding = $2, embedding_model = $3, updated_at = $4
		WHERE id = $1
	`
	return s.execOnDocument(ctx, id, query, pq.Float32Array(vector), model, time.Now())
}

// SetCoordinates writes a document's 2D coordinate and model version.
func (s *DocumentStore) SetCoordinates(ctx context.Context, id string, x, y float64, version int) error {
	query := `
		UPDATE documents
		SET map_x = $2, map_y = $3, map_version = $4, updated_at = $5
		WHERE id = $1
	`
	return s.execOnDocument(ctx, id, query, x, y, version, time.Now())
}

// SetMetadata writes a document's extracted fields and extractor version.
func (s *DocumentStore) SetMetadata(ctx context.Context, id string, meta domain.ExtractedMetadata, version string) error {
	query := `
		UPDATE documents
		SET venue = $2, citation_count = $3, topics = $4, institution = $5,
		    meta_version = $6, updated_at = $7
		WHERE id = $1
	`
	return s.execOnDocument(ctx, id, query,
		nullString(meta.Venue),
		nullInt(meta.CitationCount),
		pq.Array(meta.Topics),
		nullString(meta.Institution),
		version,
		time.Now(),
	)
}

func (s *DocumentStore) execOnDocument(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListMissing returns IDs of documents eligible for but lacking the given
// kind, paged by ID.
func (s *DocumentStore) ListMissing(ctx context.Context, kind domain.EnrichmentKind, activeVersion int, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	var query string
	args := []any{afterID, limit}

	switch kind {
	case domain.KindEmbedding:
		query = `
			SELECT id FROM documents
			WHERE (title <> '' OR abstract <> '') AND embedding IS NULL AND id > $1
			ORDER BY id LIMIT $2
		`
	case domain.KindProjection:
		query = `
			SELECT id FROM documents
			WHERE embedding IS NOT NULL AND map_version IS DISTINCT FROM $3 AND id > $1
			ORDER BY id LIMIT $2
		`
		args = append(args, activeVersion)
	case domain.KindMetadata:
		query = `
			SELECT id FROM documents
			WHERE raw_metadata IS NOT NULL AND meta_version IS NULL AND id > $1
			ORDER BY id LIMIT $2
		`
	default:
		return nil, domain.ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missing %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// SampleEmbeddings returns up to n embeddings selected at random.
// Only called from the explicit training operation.
func (s *DocumentStore) SampleEmbeddings(ctx context.Context, n int) ([][]float32, error) {
	query := `
		SELECT embedding FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY random()
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("sample embeddings: %w", err)
	}
	defer rows.Close()

	var sample [][]float32
	for rows.Next() {
		var vec pq.Float32Array
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		sample = append(sample, []float32(vec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return sample, nil
}

// CountStaleCoordinates counts documents whose coordinate version differs
// from activeVersion.
func (s *DocumentStore) CountStaleCoordinates(ctx context.Context, activeVersion int) (int64, error) {
	query := `
		SELECT COUNT(*) FROM documents
		WHERE embedding IS NOT NULL AND map_version IS DISTINCT FROM $1
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, activeVersion).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stale coordinates: %w", err)
	}
	return count, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var rawJSON []byte
	var embedding pq.Float32Array
	var embeddingModel, venue, institution, metaVersion sql.NullString
	var mapX, mapY sql.NullFloat64
	var mapVersion, citationCount sql.NullInt64
	var topics pq.StringArray

	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Abstract,
		&rawJSON,
		&embedding,
		&embeddingModel,
		&mapX,
		&mapY,
		&mapVersion,
		&venue,
		&citationCount,
		&topics,
		&institution,
		&metaVersion,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &doc.RawMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal raw metadata: %w", err)
		}
	}
	doc.Embedding = []float32(embedding)
	if embeddingModel.Valid {
		doc.EmbeddingModel = embeddingModel.String
	}
	if mapX.Valid && mapY.Valid {
		doc.MapX = &mapX.Float64
		doc.MapY = &mapY.Float64
	}
	if mapVersion.Valid {
		v := int(mapVersion.Int64)
		doc.MapVersion = &v
	}
	if venue.Valid {
		doc.Venue = &venue.String
	}
	if citationCount.Valid {
		c := int(citationCount.Int64)
		doc.CitationCount = &c
	}
	doc.Topics = []string(topics)
	if institution.Valid {
		doc.Institution = &institution.String
	}
	if metaVersion.Valid {
		doc.MetaVersion = &metaVersion.String
	}
	return &doc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
