// Package mappings holds the index settings and field mappings for each
// media type. Text fields that participate in quoted phrase search carry an
// unanalyzed ".exact" companion field.
package mappings

import (
	"fmt"

	"github.com/WordPress/openverse-api/internal/domain"
)

// GetMappingForMediaType returns the full index creation body for a media type.
func GetMappingForMediaType(mediaType domain.MediaType, shards, replicas int) (map[string]any, error) {
	switch mediaType {
	case domain.MediaImage:
		return GetImageMapping(shards, replicas), nil
	case domain.MediaAudio:
		return GetAudioMapping(shards, replicas), nil
	default:
		return nil, fmt.Errorf("unknown media type: %s", mediaType)
	}
}

// GetImageMapping returns the index body for image documents.
func GetImageMapping(shards, replicas int) map[string]any {
	props := commonProperties()
	props["aspect_ratio"] = map[string]any{"type": "keyword"}
	props["size"] = map[string]any{"type": "keyword"}
	return indexBody(shards, replicas, props)
}

// GetAudioMapping returns the index body for audio documents.
func GetAudioMapping(shards, replicas int) map[string]any {
	props := commonProperties()
	props["bit_rate"] = map[string]any{"type": "integer"}
	props["sample_rate"] = map[string]any{"type": "integer"}
	props["duration"] = map[string]any{"type": "integer"}
	props["genres"] = map[string]any{"type": "keyword"}
	props["length"] = map[string]any{"type": "keyword"}
	return indexBody(shards, replicas, props)
}

func indexBody(shards, replicas int, properties map[string]any) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{
			"properties": properties,
		},
	}
}

func commonProperties() map[string]any {
	return map[string]any{
		"identifier": map[string]any{
			"type": "keyword",
		},
		"title": exactText(),
		"description": map[string]any{
			"type": "text",
		},
		"creator": exactText(),
		"url": map[string]any{
			"type": "keyword",
		},
		"foreign_landing_url": map[string]any{
			"type": "keyword",
		},
		"license": map[string]any{
			"type": "text",
			"fields": map[string]any{
				"keyword": map[string]any{"type": "keyword"},
			},
		},
		"license_version": map[string]any{
			"type": "keyword",
		},
		"license_url": map[string]any{
			"type": "keyword",
		},
		"provider": map[string]any{
			"type": "keyword",
		},
		"source": map[string]any{
			"type": "keyword",
		},
		"category": map[string]any{
			"type": "keyword",
		},
		"extension": map[string]any{
			"type": "keyword",
		},
		"mature": map[string]any{
			"type": "boolean",
		},
		"created_on": map[string]any{
			"type": "date",
		},
		"tags": map[string]any{
			"properties": map[string]any{
				"name":     exactText(),
				"accuracy": map[string]any{"type": "float"},
			},
		},
		"standardized_popularity": map[string]any{
			"type": "rank_feature",
		},
		"authority_boost": map[string]any{
			"type": "rank_feature",
		},
	}
}

// exactText is a text field with an unanalyzed companion used by the
// quote_field_suffix phrase path.
func exactText() map[string]any {
	return map[string]any{
		"type": "text",
		"fields": map[string]any{
			"exact": map[string]any{"type": "keyword"},
		},
	}
}
