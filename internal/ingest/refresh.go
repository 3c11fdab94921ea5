package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
)

const cleanupBatchSize = 10000

// Refresher rebuilds a media table from the upstream catalog database. The
// refresh happens entirely in a staging table; the live table is untouched
// until a final atomic swap, so a failed refresh never leaves the table
// half-migrated.
type Refresher struct {
	db       *sql.DB
	upstream *config.UpstreamConfig
	cfg      *config.IngestConfig
	tls      *TLSCache
	logger   logger.Logger
}

// NewRefresher creates a data refresher.
func NewRefresher(db *sql.DB, upstream *config.UpstreamConfig, cfg *config.IngestConfig, log logger.Logger) *Refresher {
	return &Refresher{
		db:       db,
		upstream: upstream,
		cfg:      cfg,
		tls:      NewTLSCache(),
		logger:   log,
	}
}

// Refresh replaces the media table's contents with the upstream catalog's.
// Progress is reported at the boundaries of the expensive phases.
func (r *Refresher) Refresh(ctx context.Context, model domain.MediaType, progress func(float64)) error {
	table := string(model)
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}

	if err := r.setupFDW(ctx, table); err != nil {
		return err
	}
	defer r.teardownFDW(table)

	columns, err := r.sharedColumns(ctx, table)
	if err != nil {
		return err
	}
	r.logger.Info("upstream copy starting",
		logger.String("table", table),
		logger.Int("shared_columns", len(columns)),
		logger.Int("limit", r.cfg.CopyLimit))

	if _, err := r.db.ExecContext(ctx, createTempTableQuery(table)); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, copyDataQuery(table, columns, r.cfg.CopyLimit)); err != nil {
		return fmt.Errorf("failed to copy upstream data: %w", err)
	}
	report(50)

	// Only image rows carry the malformed URLs and tag noise the cleanup
	// passes exist for.
	if model == domain.MediaImage {
		if err := r.cleanData(ctx, table); err != nil {
			return err
		}
	}
	report(70)

	indexMapping, err := r.regenerateIndices(ctx, table)
	if err != nil {
		return err
	}
	if err := r.remapConstraints(ctx, table); err != nil {
		return err
	}
	report(99)

	if err := r.goLive(ctx, table, indexMapping); err != nil {
		return err
	}
	report(100)

	r.logger.Info("table refresh finished", logger.String("table", table))
	return nil
}

func (r *Refresher) setupFDW(ctx context.Context, table string) error {
	queries := createFDWQueries(
		table,
		r.upstream.Host, r.upstream.Port, r.upstream.Database,
		r.upstream.User, r.upstream.Password,
	)
	for _, query := range queries {
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to wire upstream database: %w", err)
		}
	}
	return nil
}

func (r *Refresher) teardownFDW(table string) {
	for _, query := range dropFDWQueries() {
		if _, err := r.db.Exec(query); err != nil {
			r.logger.Warn("failed to drop upstream wiring",
				logger.String("table", table), logger.Error(err))
		}
	}
}

// sharedColumns intersects the live table's columns with the upstream
// view's, so schema drift on either side shrinks the copy instead of
// breaking it.
func (r *Refresher) sharedColumns(ctx context.Context, table string) ([]string, error) {
	local, err := r.columnsOf(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT 0`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	remote, err := r.columnsOf(ctx, fmt.Sprintf(
		`SELECT * FROM %s.%s LIMIT 0`, upstreamSchema, quoteIdent(table+"_view")))
	if err != nil {
		return nil, err
	}

	remoteSet := make(map[string]bool, len(remote))
	for _, col := range remote {
		remoteSet[col] = true
	}
	var shared []string
	for _, col := range local {
		if remoteSet[col] {
			shared = append(shared, col)
		}
	}
	if len(shared) == 0 {
		return nil, fmt.Errorf("no shared columns between %s and its upstream view", table)
	}
	return shared, nil
}

func (r *Refresher) columnsOf(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return rows.Columns()
}

// cleanData runs the cleanup transforms over the staging table in parallel
// across disjoint id batches.
func (r *Refresher) cleanData(ctx context.Context, table string) error {
	temp := TempTable(table)

	var maxID sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(id) FROM %s`, quoteIdent(temp))
	if err := r.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return fmt.Errorf("failed to size cleanup batches: %w", err)
	}

	batches := splitBatches(maxID.Int64, cleanupBatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.CleanupWorkers)
	for _, batch := range batches {
		b := batch
		g.Go(func() error {
			return r.cleanBatch(gctx, temp, b)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("data cleanup failed: %w", err)
	}
	return nil
}

func (r *Refresher) cleanBatch(ctx context.Context, temp string, batch cleanupBatch) error {
	query := fmt.Sprintf(
		`SELECT id, url, COALESCE(title, ''), COALESCE(tags, 'null') FROM %s WHERE id > $1 AND id <= $2`,
		quoteIdent(temp))
	rows, err := r.db.QueryContext(ctx, query, batch.startID, batch.endID)
	if err != nil {
		return fmt.Errorf("failed to fetch cleanup batch: %w", err)
	}

	var fixups []struct {
		id    int64
		fixes rowFixes
	}
	for rows.Next() {
		var (
			row     cleanableRow
			tagsRaw []byte
		)
		if err := rows.Scan(&row.ID, &row.URL, &row.Title, &tagsRaw); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan cleanup row: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &row.Tags)

		if fixes := cleanRow(row, r.tls); !fixes.empty() {
			fixups = append(fixups, struct {
				id    int64
				fixes rowFixes
			}{row.ID, fixes})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to read cleanup batch: %w", err)
	}
	_ = rows.Close()

	for _, fix := range fixups {
		if err := r.applyFixes(ctx, temp, fix.id, fix.fixes); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) applyFixes(ctx context.Context, temp string, id int64, fixes rowFixes) error {
	if fixes.URL != nil {
		query := fmt.Sprintf(`UPDATE %s SET url = $1 WHERE id = $2`, quoteIdent(temp))
		if _, err := r.db.ExecContext(ctx, query, *fixes.URL, id); err != nil {
			return fmt.Errorf("failed to update url for row %d: %w", id, err)
		}
	}
	if fixes.Title != nil {
		query := fmt.Sprintf(`UPDATE %s SET title = $1 WHERE id = $2`, quoteIdent(temp))
		if _, err := r.db.ExecContext(ctx, query, *fixes.Title, id); err != nil {
			return fmt.Errorf("failed to update title for row %d: %w", id, err)
		}
	}
	if fixes.Tags != nil {
		encoded, err := json.Marshal(fixes.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode cleaned tags for row %d: %w", id, err)
		}
		query := fmt.Sprintf(`UPDATE %s SET tags = $1 WHERE id = $2`, quoteIdent(temp))
		if _, err := r.db.ExecContext(ctx, query, encoded, id); err != nil {
			return fmt.Errorf("failed to update tags for row %d: %w", id, err)
		}
	}
	return nil
}

// regenerateIndices recreates the live table's indices against the staging
// table under collision-free names, returning the rename mapping for
// go-live.
func (r *Refresher) regenerateIndices(ctx context.Context, table string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, listIndicesQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices: %w", err)
	}

	type indexDef struct {
		name, def string
	}
	var defs []indexDef
	for rows.Next() {
		var d indexDef
		if err := rows.Scan(&d.name, &d.def); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan index definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read index definitions: %w", err)
	}
	_ = rows.Close()

	mapping := make(map[string]string)
	for _, d := range defs {
		rewritten, tempName, originalName, skip := RewriteIndexDef(d.def, table)
		if skip {
			continue
		}
		if _, err := r.db.ExecContext(ctx, rewritten); err != nil {
			return nil, fmt.Errorf("failed to recreate index %s: %w", originalName, err)
		}
		mapping[tempName] = originalName
	}
	return mapping, nil
}

// remapConstraints recreates foreign keys that reference the live table so
// they point at the staging table, deleting orphaned referencing rows first.
func (r *Refresher) remapConstraints(ctx context.Context, table string) error {
	rows, err := r.db.QueryContext(ctx, listForeignKeysQuery(), table)
	if err != nil {
		return fmt.Errorf("failed to list foreign keys: %w", err)
	}

	type foreignKey struct {
		name, referencingTable, fkColumn, def string
	}
	var keys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.name, &fk.referencingTable, &fk.fkColumn, &fk.def); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		keys = append(keys, fk)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to read foreign keys: %w", err)
	}
	_ = rows.Close()

	for _, fk := range keys {
		drop := fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT %s`,
			quoteIdent(fk.referencingTable), quoteIdent(fk.name))
		if _, err := r.db.ExecContext(ctx, drop); err != nil {
			return fmt.Errorf("failed to drop constraint %s: %w", fk.name, err)
		}

		if _, err := r.db.ExecContext(ctx,
			deleteOrphanedRowsQuery(fk.referencingTable, fk.fkColumn, table)); err != nil {
			return fmt.Errorf("failed to delete orphaned rows from %s: %w", fk.referencingTable, err)
		}

		add := fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s %s`,
			quoteIdent(fk.referencingTable), quoteIdent(fk.name),
			RetargetConstraintDef(fk.def, table))
		if _, err := r.db.ExecContext(ctx, add); err != nil {
			return fmt.Errorf("failed to re-add constraint %s: %w", fk.name, err)
		}
	}
	return nil
}

// goLive swaps the staging table into place inside one transaction.
func (r *Refresher) goLive(ctx context.Context, table string, indexMapping map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin go-live transaction: %w", err)
	}
	for _, query := range goLiveQueries(table, indexMapping) {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("go-live failed, rolled back: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit go-live: %w", err)
	}
	return nil
}
