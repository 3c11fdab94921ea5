// Package domain holds the media catalog types shared by the search engine,
// the ingestion pipeline and the HTTP layer.
package domain

import "time"

// MediaType identifies a searchable media catalog. Each media type maps to
// one database table and one search index alias of the same name.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
)

// MediaTypes lists every supported media type.
var MediaTypes = []MediaType{MediaImage, MediaAudio}

// ValidMediaType reports whether the given name is a supported media type.
func ValidMediaType(name string) bool {
	for _, mt := range MediaTypes {
		if string(mt) == name {
			return true
		}
	}
	return false
}

// Tag is a descriptive label attached to a media item. Accuracy is the
// confidence of machine-generated tags and is zero for human-entered ones.
type Tag struct {
	Name     string  `json:"name"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Document is the search engine representation of one media item. Rank
// feature fields are pointers so that null values are omitted entirely;
// the engine rejects rank features with missing values otherwise.
type Document struct {
	ID                int64      `json:"id"`
	Identifier        string     `json:"identifier"`
	Title             string     `json:"title,omitempty"`
	Description       string     `json:"description,omitempty"`
	Creator           string     `json:"creator,omitempty"`
	CreatorURL        string     `json:"creator_url,omitempty"`
	URL               string     `json:"url"`
	ForeignLandingURL string     `json:"foreign_landing_url,omitempty"`
	License           string     `json:"license"`
	LicenseVersion    string     `json:"license_version,omitempty"`
	Provider          string     `json:"provider,omitempty"`
	Source            string     `json:"source,omitempty"`
	Category          string     `json:"category,omitempty"`
	Extension         string     `json:"extension,omitempty"`
	Tags              []Tag      `json:"tags,omitempty"`
	Mature            bool       `json:"mature"`
	CreatedOn         *time.Time `json:"created_on,omitempty"`

	StandardizedPopularity *float64 `json:"standardized_popularity,omitempty"`
	AuthorityBoost         *float64 `json:"authority_boost,omitempty"`

	// Image fields.
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Size        string `json:"size,omitempty"`

	// Audio fields.
	BitRate    int      `json:"bit_rate,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Duration   int      `json:"duration,omitempty"`
}

// Hit is a single ranked search result.
type Hit struct {
	DocID          string   `json:"-"` // engine-internal document id
	Identifier     string   `json:"id"`
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Creator        string   `json:"creator,omitempty"`
	License        string   `json:"license"`
	LicenseVersion string   `json:"license_version,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Source         string   `json:"source,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tags           []Tag    `json:"tags,omitempty"`
	Mature         bool     `json:"mature"`
	Score          float64  `json:"-"`
	FieldsMatched  []string `json:"fields_matched,omitempty"`
}

// HealthStatus reports service health and the state of its dependencies.
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}
