package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.version, d.updated_at, p.published_at
		FROM documents d
		LEFT JOIN published_pages p ON p.document_id = d.id
		ORDER BY d.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentSummary, 0)
	for rows.Next() {
		var item DocumentSummary
		var publishedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.Title, &item.Version, &item.UpdatedAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if publishedAt.Valid {
			item.PublishedAt = &publishedAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, version, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Title, &content, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", documentID, err)
	}
	item.Content = json.RawMessage(content)
	return item, nil
}

// GetDocumentContent returns only the stored JSON tree.
func (s *PostgresStore) GetDocumentContent(ctx context.Context, documentID string) (json.RawMessage, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE id=$1`, documentID).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("get document content %s: %w", documentID, err)
	}
	return json.RawMessage(content), nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content)
		VALUES ($1, $2, $3::jsonb)
		RETURNING version, created_at, updated_at
	`, item.ID, item.Title, string(item.Content)).Scan(&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

// SaveDocument stores new content and bumps the version. A missing document
// yields sql.ErrNoRows.
func (s *PostgresStore) SaveDocument(ctx context.Context, documentID, title string, content json.RawMessage) (Document, error) {
	item := Document{ID: documentID, Title: title, Content: content}
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3::jsonb, version=version+1, updated_at=NOW()
		WHERE id=$1
		RETURNING version, created_at, updated_at
	`, documentID, title, string(content)).Scan(&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("save document %s: %w", documentID, err)
	}
	return item, nil
}

// SaveContent stores new content under the current title.
func (s *PostgresStore) SaveContent(ctx context.Context, documentID string, content json.RawMessage) (Document, error) {
	item := Document{ID: documentID, Content: content}
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET content=$2::jsonb, version=version+1, updated_at=NOW()
		WHERE id=$1
		RETURNING title, version, created_at, updated_at
	`, documentID, string(content)).Scan(&item.Title, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("save document content %s: %w", documentID, err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete document %s: %w", documentID, sql.ErrNoRows)
	}
	return nil
}

// InsertPublication records a publication and makes it the document's
// searchable page in one transaction.
func (s *PostgresStore) InsertPublication(ctx context.Context, item Publication) (Publication, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Publication{}, fmt.Errorf("begin publication tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO publications (document_id, document_version, title, body_text, digest, commit_hash, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, published_at
	`, item.DocumentID, item.DocumentVersion, item.Title, item.BodyText, item.Digest, item.CommitHash, item.ObjectKey).Scan(&item.ID, &item.PublishedAt)
	if err != nil {
		return Publication{}, fmt.Errorf("insert publication: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO published_pages (document_id, publication_id, title, body_text, published_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE
		SET publication_id=EXCLUDED.publication_id,
			title=EXCLUDED.title,
			body_text=EXCLUDED.body_text,
			published_at=EXCLUDED.published_at
	`, item.DocumentID, item.ID, item.Title, item.BodyText, item.PublishedAt); err != nil {
		return Publication{}, fmt.Errorf("upsert published page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Publication{}, fmt.Errorf("commit publication: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) LatestPublication(ctx context.Context, documentID string) (Publication, error) {
	var item Publication
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, document_version, title, body_text, digest, commit_hash, object_key, published_at
		FROM publications
		WHERE document_id=$1
		ORDER BY published_at DESC, id DESC
		LIMIT 1
	`, documentID).Scan(
		&item.ID, &item.DocumentID, &item.DocumentVersion, &item.Title, &item.BodyText,
		&item.Digest, &item.CommitHash, &item.ObjectKey, &item.PublishedAt,
	)
	if err != nil {
		return Publication{}, fmt.Errorf("latest publication %s: %w", documentID, err)
	}
	return item, nil
}

func (s *PostgresStore) ListPublications(ctx context.Context, documentID string, limit int) ([]Publication, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, document_version, title, digest, commit_hash, object_key, published_at
		FROM publications
		WHERE document_id=$1
		ORDER BY published_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	items := make([]Publication, 0)
	for rows.Next() {
		var item Publication
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.DocumentVersion, &item.Title, &item.Digest, &item.CommitHash, &item.ObjectKey, &item.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
