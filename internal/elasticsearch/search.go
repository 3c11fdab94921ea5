package elasticsearch

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/WordPress/openverse-api/internal/domain"
)

// SearchPage is one raw page of engine results before dead-link filtering.
type SearchPage struct {
	Hits   []domain.Hit
	Total  int64
	TookMs int
}

func parseSearchResponse(body io.Reader) (*SearchPage, error) {
	var result struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID        string          `json:"_id"`
				Score     float64         `json:"_score"`
				Source    json.RawMessage `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	page := &SearchPage{
		Total:  result.Hits.Total.Value,
		TookMs: result.Took,
		Hits:   make([]domain.Hit, 0, len(result.Hits.Hits)),
	}

	for _, raw := range result.Hits.Hits {
		var hit domain.Hit
		if len(raw.Source) > 0 {
			// Stored documents carry a numeric table id plus the public
			// identifier; only the latter is exposed on a hit.
			var doc domain.Document
			if err := json.Unmarshal(raw.Source, &doc); err != nil {
				return nil, fmt.Errorf("failed to decode hit %s: %w", raw.ID, err)
			}
			hit = hitFromDocument(&doc)
		}
		hit.DocID = raw.ID
		hit.Score = raw.Score
		for field := range raw.Highlight {
			hit.FieldsMatched = append(hit.FieldsMatched, field)
		}
		page.Hits = append(page.Hits, hit)
	}

	return page, nil
}

func hitFromDocument(doc *domain.Document) domain.Hit {
	return domain.Hit{
		Identifier:     doc.Identifier,
		Title:          doc.Title,
		URL:            doc.URL,
		Creator:        doc.Creator,
		License:        doc.License,
		LicenseVersion: doc.LicenseVersion,
		Provider:       doc.Provider,
		Source:         doc.Source,
		Category:       doc.Category,
		Tags:           doc.Tags,
		Mature:         doc.Mature,
	}
}
