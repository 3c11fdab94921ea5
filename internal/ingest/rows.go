package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/lib/pq"

	"github.com/WordPress/openverse-api/internal/domain"
)

func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// rowMetaData is the subset of the meta_data jsonb column that feeds the
// index.
type rowMetaData struct {
	Description            string   `json:"description"`
	StandardizedPopularity *float64 `json:"standardized_popularity"`
	AuthorityBoost         *float64 `json:"authority_boost"`
}

// scanDocuments converts fetched rows into engine documents and returns the
// highest id seen, which becomes the next chunk's cursor.
func scanDocuments(rows *sql.Rows) ([]domain.Document, int64, error) {
	defer func() {
		_ = rows.Close()
	}()

	var (
		docs   []domain.Document
		lastID int64
	)
	for rows.Next() {
		var (
			doc       domain.Document
			title     sql.NullString
			creator   sql.NullString
			license   sql.NullString
			version   sql.NullString
			provider  sql.NullString
			source    sql.NullString
			category  sql.NullString
			createdOn sql.NullTime
			tagsRaw   []byte
			metaRaw   []byte
		)
		if err := rows.Scan(
			&doc.ID, &doc.Identifier, &title, &creator, &doc.URL,
			&license, &version, &provider, &source,
			&category, &createdOn, &tagsRaw, &metaRaw, &doc.Mature,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan media row: %w", err)
		}

		doc.Title = title.String
		doc.Creator = creator.String
		doc.License = strings.ToLower(license.String)
		doc.LicenseVersion = version.String
		doc.Provider = provider.String
		doc.Source = source.String
		doc.Category = category.String
		if createdOn.Valid {
			created := createdOn.Time.UTC()
			doc.CreatedOn = &created
		}

		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
				// A single malformed tags blob should not sink a whole
				// reindex chunk.
				doc.Tags = nil
			}
		}
		if len(metaRaw) > 0 {
			var meta rowMetaData
			if err := json.Unmarshal(metaRaw, &meta); err == nil {
				doc.Description = meta.Description
				doc.StandardizedPopularity = meta.StandardizedPopularity
				doc.AuthorityBoost = meta.AuthorityBoost
			}
		}

		lastID = doc.ID
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read media rows: %w", err)
	}
	return docs, lastID, nil
}

// finalizeDocument fills in the fields derived from others rather than
// stored.
func finalizeDocument(_ domain.MediaType, doc *domain.Document) {
	if doc.Extension == "" {
		doc.Extension = extensionOf(doc.URL)
	}
}

func extensionOf(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := strings.TrimPrefix(path.Ext(trimmed), ".")
	if len(ext) > 4 {
		return ""
	}
	return strings.ToLower(ext)
}
