package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/domain"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/elasticsearch/mappings"
	"github.com/WordPress/openverse-api/internal/logger"
)

const (
	indexShards   = 18
	indexReplicas = 0

	bulkWorkers    = 2
	bulkFlushBytes = 5 * 1024 * 1024

	greenTimeout = 10 * time.Minute
)

// TableIndexer moves media rows from the API database into engine indices.
type TableIndexer struct {
	db     *sql.DB
	client *es.Client
	cfg    *config.IngestConfig
	logger logger.Logger
}

// NewTableIndexer creates a table indexer.
func NewTableIndexer(db *sql.DB, client *es.Client, cfg *config.IngestConfig, log logger.Logger) *TableIndexer {
	return &TableIndexer{db: db, client: client, cfg: cfg, logger: log}
}

// Reindex rebuilds a media type's index from scratch into targetIndex.
// The index is created without replicas so the bulk load writes once per
// document; replicas are restored afterwards.
func (t *TableIndexer) Reindex(
	ctx context.Context,
	model domain.MediaType,
	targetIndex string,
	progress func(float64),
) error {
	mapping, err := mappings.GetMappingForMediaType(model, indexShards, indexReplicas)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequest, err)
	}
	if err := t.client.CreateIndex(ctx, targetIndex, mapping); err != nil {
		return err
	}

	maxID, err := t.maxID(ctx, string(model))
	if err != nil {
		return err
	}
	if err := t.IndexShard(ctx, model, targetIndex, 0, maxID, progress); err != nil {
		return err
	}

	if err := t.client.PutSettings(ctx, targetIndex, map[string]any{"number_of_replicas": 1}); err != nil {
		return err
	}
	return t.client.Refresh(ctx, targetIndex)
}

// IndexShard indexes rows with startID < id <= endID into targetIndex. It
// is the unit of work dispatched to distributed workers and is idempotent;
// re-running a shard overwrites the same documents.
func (t *TableIndexer) IndexShard(
	ctx context.Context,
	model domain.MediaType,
	targetIndex string,
	startID, endID int64,
	progress func(float64),
) error {
	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      targetIndex,
		Client:     t.client.GetESClient(),
		NumWorkers: bulkWorkers,
		FlushBytes: bulkFlushBytes,
		OnError: func(_ context.Context, err error) {
			t.logger.Error("bulk indexer error", logger.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	query := fetchRowsQuery(string(model))
	total := endID - startID
	cursor := startID
	for cursor < endID {
		docs, lastID, err := t.fetchChunk(ctx, query, cursor, endID)
		if err != nil {
			_ = bulk.Close(ctx)
			return err
		}
		if len(docs) == 0 {
			break
		}

		for i := range docs {
			if err := t.addToBulk(ctx, bulk, model, &docs[i]); err != nil {
				_ = bulk.Close(ctx)
				return err
			}
		}

		cursor = lastID
		if progress != nil && total > 0 {
			progress(100 * float64(cursor-startID) / float64(total))
		}
	}

	if err := bulk.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush bulk indexer: %w", err)
	}
	if stats := bulk.Stats(); stats.NumFailed > 0 {
		return fmt.Errorf("%d documents failed to index into %s", stats.NumFailed, targetIndex)
	}

	t.logger.Info("shard indexed",
		logger.String("model", string(model)),
		logger.String("target_index", targetIndex),
		logger.Int64("start_id", startID),
		logger.Int64("end_id", endID))
	return nil
}

// UpdateIndex indexes only the rows updated since a watermark date into an
// existing index.
func (t *TableIndexer) UpdateIndex(
	ctx context.Context,
	model domain.MediaType,
	index, sinceDate string,
) error {
	since, err := time.Parse("2006-01-02", sinceDate)
	if err != nil {
		return fmt.Errorf("%w: invalid since_date %q", ErrBadRequest, sinceDate)
	}

	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      index,
		Client:     t.client.GetESClient(),
		NumWorkers: bulkWorkers,
		FlushBytes: bulkFlushBytes,
		OnError: func(_ context.Context, err error) {
			t.logger.Error("bulk indexer error", logger.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	query := fetchUpdatedRowsQuery(string(model))
	var cursor int64
	indexed := 0
	for {
		rows, err := t.db.QueryContext(ctx, query, since, cursor, t.cfg.BufferSize)
		if err != nil {
			_ = bulk.Close(ctx)
			return fmt.Errorf("failed to fetch updated rows: %w", err)
		}
		docs, lastID, err := scanDocuments(rows)
		if err != nil {
			_ = bulk.Close(ctx)
			return err
		}
		if len(docs) == 0 {
			break
		}

		for i := range docs {
			if err := t.addToBulk(ctx, bulk, model, &docs[i]); err != nil {
				_ = bulk.Close(ctx)
				return err
			}
		}
		indexed += len(docs)
		cursor = lastID
	}

	if err := bulk.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush bulk indexer: %w", err)
	}
	if stats := bulk.Stats(); stats.NumFailed > 0 {
		return fmt.Errorf("%d documents failed to index into %s", stats.NumFailed, index)
	}

	t.logger.Info("incremental index update finished",
		logger.String("index", index),
		logger.String("since", sinceDate),
		logger.Int("documents", indexed))
	return t.client.Refresh(ctx, index)
}

// PointAlias atomically repoints alias at targetIndex. The target must be a
// healthy concrete index, and the alias name must not already be taken by a
// concrete index.
func (t *TableIndexer) PointAlias(ctx context.Context, targetIndex, alias string) error {
	target, err := t.client.GetStat(ctx, targetIndex)
	if err != nil {
		return err
	}
	if !target.Exists || target.IsAlias {
		return fmt.Errorf("%w: %q is not a concrete index", ErrBadRequest, targetIndex)
	}

	aliasStat, err := t.client.GetStat(ctx, alias)
	if err != nil {
		return err
	}
	if aliasStat.Exists && !aliasStat.IsAlias {
		return fmt.Errorf("%w: %q exists as a concrete index, not an alias", ErrBadRequest, alias)
	}

	if err := t.client.WaitForHealth(ctx, targetIndex, "green", greenTimeout); err != nil {
		return err
	}

	if err := t.client.UpdateAliases(ctx, alias, targetIndex, aliasStat.AltNames); err != nil {
		return err
	}
	t.logger.Info("alias repointed",
		logger.String("alias", alias),
		logger.String("target_index", targetIndex),
		logger.Strings("previous", aliasStat.AltNames))
	return nil
}

// DeleteIndex deletes a concrete index, addressed either by suffix or by
// the alias serving it. A serving index is only deleted with force set.
func (t *TableIndexer) DeleteIndex(
	ctx context.Context,
	model domain.MediaType,
	alias, suffix string,
	force bool,
) error {
	if alias != "" {
		stat, err := t.client.GetStat(ctx, alias)
		if err != nil {
			return err
		}
		if !stat.Exists {
			return fmt.Errorf("%w: alias %q does not exist", ErrBadRequest, alias)
		}
		if !stat.IsAlias {
			return fmt.Errorf("%w: %q is a concrete index, not an alias", ErrBadRequest, alias)
		}
		if !force {
			return fmt.Errorf("%w: %q is serving traffic; set force_delete to delete it", ErrBadRequest, alias)
		}
		for _, index := range stat.AltNames {
			if err := t.client.DeleteIndex(ctx, index); err != nil {
				return err
			}
		}
		return nil
	}

	name := fmt.Sprintf("%s-%s", model, suffix)
	stat, err := t.client.GetStat(ctx, name)
	if err != nil {
		return err
	}
	if !stat.Exists {
		return fmt.Errorf("%w: index %q does not exist", ErrBadRequest, name)
	}
	if stat.IsAlias {
		return fmt.Errorf("%w: %q is an alias, not an index", ErrBadRequest, name)
	}
	if len(stat.AltNames) > 0 && !force {
		return fmt.Errorf("%w: index %q is behind aliases %v; set force_delete to delete it",
			ErrBadRequest, name, stat.AltNames)
	}
	return t.client.DeleteIndex(ctx, name)
}

func (t *TableIndexer) maxID(ctx context.Context, table string) (int64, error) {
	var maxID sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(id) FROM %s`, quoteIdent(table))
	if err := t.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to read max id from %s: %w", table, err)
	}
	return maxID.Int64, nil
}

func (t *TableIndexer) fetchChunk(ctx context.Context, query string, cursor, endID int64) ([]domain.Document, int64, error) {
	rows, err := t.db.QueryContext(ctx, query, cursor, endID, t.cfg.BufferSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch rows: %w", err)
	}
	return scanDocuments(rows)
}

func (t *TableIndexer) addToBulk(ctx context.Context, bulk esutil.BulkIndexer, model domain.MediaType, doc *domain.Document) error {
	finalizeDocument(model, doc)
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.Identifier, err)
	}
	return bulk.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: doc.Identifier,
		Body:       bytes.NewReader(encoded),
		OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			if err != nil {
				t.logger.Error("document rejected", logger.Error(err))
				return
			}
			t.logger.Error("document rejected",
				logger.String("reason", res.Error.Reason))
		},
	})
}
