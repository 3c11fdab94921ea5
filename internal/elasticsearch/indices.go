package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Stat describes what a name refers to in the cluster: a concrete index, an
// alias, or nothing at all.
type Stat struct {
	Exists   bool     `json:"exists"`
	IsAlias  bool     `json:"is_alias"`
	AltNames []string `json:"alt_names"`
}

// CreateIndex creates an index with the given settings and mappings body.
func (c *Client) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode index body: %w", err)
	}

	res, err := c.esClient.Indices.Create(
		name,
		c.esClient.Indices.Create.WithContext(ctx),
		c.esClient.Indices.Create.WithBody(bytes.NewReader(encoded)),
	)
	if err != nil {
		return fmt.Errorf("create index request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index %q returned error [%d]: %s", name, res.StatusCode, string(raw))
	}
	return nil
}

// DeleteIndex deletes a concrete index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.esClient.Indices.Delete(
		[]string{name},
		c.esClient.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete index request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete index %q returned error [%d]: %s", name, res.StatusCode, string(raw))
	}
	return nil
}

// IndexExists reports whether an index or alias with this name exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.esClient.Indices.Exists(
		[]string{name},
		c.esClient.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("index exists request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	return res.StatusCode == http.StatusOK, nil
}

// GetStat resolves a name to its cluster-level identity. For an alias it
// reports the concrete indices behind it; for an index it reports the aliases
// pointing at it.
func (c *Client) GetStat(ctx context.Context, name string) (*Stat, error) {
	res, err := c.esClient.Indices.Get(
		[]string{name},
		c.esClient.Indices.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("get index request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return &Stat{}, nil
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get index %q returned error [%d]: %s", name, res.StatusCode, string(raw))
	}

	var indices map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("failed to decode get index response: %w", err)
	}

	stat := &Stat{Exists: true}
	for indexName, info := range indices {
		if indexName != name {
			// The name resolved to a different concrete index, so it is an
			// alias over that index.
			stat.IsAlias = true
			stat.AltNames = append(stat.AltNames, indexName)
			continue
		}
		for alias := range info.Aliases {
			stat.AltNames = append(stat.AltNames, alias)
		}
	}
	return stat, nil
}

// UpdateAliases atomically moves an alias from its current targets to a new
// index. Removal and addition happen in a single cluster operation so readers
// never observe a missing alias.
func (c *Client) UpdateAliases(ctx context.Context, alias, newIndex string, removeFrom []string) error {
	actions := make([]map[string]any, 0, len(removeFrom)+1)
	for _, old := range removeFrom {
		actions = append(actions, map[string]any{
			"remove": map[string]any{"index": old, "alias": alias},
		})
	}
	actions = append(actions, map[string]any{
		"add": map[string]any{"index": newIndex, "alias": alias},
	})

	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("failed to encode alias actions: %w", err)
	}

	res, err := c.esClient.Indices.UpdateAliases(
		bytes.NewReader(body),
		c.esClient.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("update aliases request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("update aliases returned error [%d]: %s", res.StatusCode, string(raw))
	}
	return nil
}

// Refresh makes all recent writes to an index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := c.esClient.Indices.Refresh(
		c.esClient.Indices.Refresh.WithContext(ctx),
		c.esClient.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("refresh %q returned error [%d]: %s", index, res.StatusCode, string(raw))
	}
	return nil
}

// PutSettings applies dynamic settings to an index, such as restoring the
// replica count after a bulk load.
func (c *Client) PutSettings(ctx context.Context, index string, settings map[string]any) error {
	body, err := json.Marshal(map[string]any{"index": settings})
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	res, err := c.esClient.Indices.PutSettings(
		bytes.NewReader(body),
		c.esClient.Indices.PutSettings.WithContext(ctx),
		c.esClient.Indices.PutSettings.WithIndex(index),
	)
	if err != nil {
		return fmt.Errorf("put settings request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("put settings on %q returned error [%d]: %s", index, res.StatusCode, string(raw))
	}
	return nil
}

// WaitForHealth blocks until the index reaches the requested health status.
func (c *Client) WaitForHealth(ctx context.Context, index, status string, timeout time.Duration) error {
	res, err := c.esClient.Cluster.Health(
		c.esClient.Cluster.Health.WithContext(ctx),
		c.esClient.Cluster.Health.WithIndex(index),
		c.esClient.Cluster.Health.WithWaitForStatus(status),
		c.esClient.Cluster.Health.WithTimeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("wait for %s health failed: %w", status, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index %q did not reach %s [%d]: %s", index, status, res.StatusCode, string(raw))
	}

	var health struct {
		TimedOut bool   `json:"timed_out"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.TimedOut {
		return fmt.Errorf("index %q did not reach %s within %s (current: %s)",
			index, status, timeout, health.Status)
	}
	return nil
}

// ListIndices lists concrete index names matching a pattern.
func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := c.esClient.Cat.Indices(
		c.esClient.Cat.Indices.WithContext(ctx),
		c.esClient.Cat.Indices.WithIndex(pattern),
		c.esClient.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("list indices returned error [%d]: %s", res.StatusCode, string(raw))
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode indices listing: %w", err)
	}

	indices := make([]string, 0, len(rows))
	for _, row := range rows {
		if !strings.HasPrefix(row.Index, ".") {
			indices = append(indices, row.Index)
		}
	}
	return indices, nil
}

// GetDocID resolves a media identifier to the engine-internal document id
// within an index, used as the seed for related-media queries.
func (c *Client) GetDocID(ctx context.Context, index, identifier string) (string, error) {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"identifier": identifier},
		},
		"size":    1,
		"_source": false,
	}

	page, err := c.Search(ctx, index, query, SearchOptions{})
	if err != nil {
		return "", err
	}
	if len(page.Hits) == 0 {
		return "", fmt.Errorf("no document found for identifier %q in %q", identifier, index)
	}
	return page.Hits[0].DocID, nil
}
