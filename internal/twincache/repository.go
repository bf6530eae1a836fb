package twincache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Document types stored by the cache.
const (
	DocDesired  = "desired"
	DocReported = "reported"
	DocFull     = "full"
)

// Entry is one cached twin document.
type Entry struct {
	DocType   string
	Document  map[string]any
	Version   int
	UpdatedAt time.Time
}

// Repository stores twin documents as JSON in the twin_cache table, one
// row per document type.
type Repository struct {
	db *sql.DB
}

// New creates a twin cache repository over an open database.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveDesired stores the last known desired document and its $version.
func (r *Repository) SaveDesired(ctx context.Context, doc map[string]any, version int) error {
	return r.save(ctx, DocDesired, doc, version)
}

// SaveReported stores the last reported document and its version.
func (r *Repository) SaveReported(ctx context.Context, doc map[string]any, version int) error {
	return r.save(ctx, DocReported, doc, version)
}

// SaveFull stores a complete twin document as returned by a twin get.
// The version is the desired section's $version.
func (r *Repository) SaveFull(ctx context.Context, doc map[string]any, version int) error {
	return r.save(ctx, DocFull, doc, version)
}

func (r *Repository) save(ctx context.Context, docType string, doc map[string]any, version int) error {
	if doc == nil {
		doc = map[string]any{}
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling twin document: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO twin_cache (doc_type, document, version, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(doc_type) DO UPDATE SET
		     document = excluded.document,
		     version = excluded.version,
		     updated_at = excluded.updated_at`,
		docType,
		string(docJSON),
		version,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting twin document: %w", err)
	}

	return nil
}

// Get returns the cached document of the given type.
//
// Returns ErrNotCached when nothing of that type has been saved.
func (r *Repository) Get(ctx context.Context, docType string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT document, version, updated_at FROM twin_cache WHERE doc_type = ?",
		docType,
	)

	var docJSON string
	var updatedAt string
	entry := &Entry{DocType: docType}

	if err := row.Scan(&docJSON, &entry.Version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("querying twin cache: %w", err)
	}

	if err := json.Unmarshal([]byte(docJSON), &entry.Document); err != nil {
		return nil, fmt.Errorf("unmarshalling twin document: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	entry.UpdatedAt = timestamp

	return entry, nil
}
