package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const sourceAggSize = 100

// SourceCounts returns per-source document counts for an index via a terms
// aggregation.
func (c *Client) SourceCounts(ctx context.Context, index string) (map[string]int64, error) {
	qb := NewQueryBuilder()
	body, err := json.Marshal(qb.BuildSourcesAgg(sourceAggSize))
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregation: %w", err)
	}

	res, err := c.esClient.Search(
		c.esClient.Search.WithContext(ctx),
		c.esClient.Search.WithIndex(index),
		c.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("source aggregation failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("source aggregation returned error [%d]: %s", res.StatusCode, string(raw))
	}

	var result struct {
		Aggregations struct {
			Sources struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"sources"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode aggregation response: %w", err)
	}

	counts := make(map[string]int64, len(result.Aggregations.Sources.Buckets))
	for _, bucket := range result.Aggregations.Sources.Buckets {
		counts[bucket.Key] = bucket.DocCount
	}
	return counts, nil
}
