package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

const (
	tempTablePrefix = "temp_import_"
	upstreamServer  = "upstream"
	upstreamSchema  = "upstream_schema"
)

// TempTable returns the staging table name for a media table.
func TempTable(table string) string {
	return tempTablePrefix + table
}

// fetchRowsQuery selects one id-range shard of indexable rows. Rows deleted
// through the moderation tables are excluded at the source, and maturity is
// computed from its moderation table rather than stored on the row.
func fetchRowsQuery(table string) string {
	t := pq.QuoteIdentifier(table)
	deleted := pq.QuoteIdentifier("api_deleted" + table)
	mature := pq.QuoteIdentifier("api_mature" + table)
	return fmt.Sprintf(`
		SELECT t.id, t.identifier, t.title, t.creator, t.url,
		       t.license, t.license_version, t.provider, t.source,
		       t.category, t.created_on, t.tags, t.meta_data,
		       EXISTS (SELECT 1 FROM %s m WHERE m.identifier = t.identifier) AS mature
		FROM %s t
		WHERE t.id > $1 AND t.id <= $2
		  AND NOT EXISTS (SELECT 1 FROM %s d WHERE d.identifier = t.identifier)
		ORDER BY t.id
		LIMIT $3`, mature, t, deleted)
}

// fetchUpdatedRowsQuery is the incremental variant of fetchRowsQuery,
// bounded by an updated_on watermark instead of an id range.
func fetchUpdatedRowsQuery(table string) string {
	t := pq.QuoteIdentifier(table)
	deleted := pq.QuoteIdentifier("api_deleted" + table)
	mature := pq.QuoteIdentifier("api_mature" + table)
	return fmt.Sprintf(`
		SELECT t.id, t.identifier, t.title, t.creator, t.url,
		       t.license, t.license_version, t.provider, t.source,
		       t.category, t.created_on, t.tags, t.meta_data,
		       EXISTS (SELECT 1 FROM %s m WHERE m.identifier = t.identifier) AS mature
		FROM %s t
		WHERE t.updated_on >= $1 AND t.id > $2
		  AND NOT EXISTS (SELECT 1 FROM %s d WHERE d.identifier = t.identifier)
		ORDER BY t.id
		LIMIT $3`, mature, t, deleted)
}

// createFDWQueries wires the upstream catalog database in as a foreign
// schema. The server and schema are rebuilt from scratch each refresh so a
// previous failed run cannot leave stale options behind.
func createFDWQueries(table, host string, port int, dbname, user, password string) []string {
	view := table + "_view"
	return []string{
		`CREATE EXTENSION IF NOT EXISTS postgres_fdw`,
		fmt.Sprintf(`DROP SERVER IF EXISTS %s CASCADE`, upstreamServer),
		fmt.Sprintf(
			`CREATE SERVER %s FOREIGN DATA WRAPPER postgres_fdw OPTIONS (host %s, port %s, dbname %s)`,
			upstreamServer,
			pq.QuoteLiteral(host),
			pq.QuoteLiteral(fmt.Sprintf("%d", port)),
			pq.QuoteLiteral(dbname),
		),
		fmt.Sprintf(
			`CREATE USER MAPPING FOR CURRENT_USER SERVER %s OPTIONS (user %s, password %s)`,
			upstreamServer,
			pq.QuoteLiteral(user),
			pq.QuoteLiteral(password),
		),
		fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, upstreamSchema),
		fmt.Sprintf(`CREATE SCHEMA %s`, upstreamSchema),
		fmt.Sprintf(
			`IMPORT FOREIGN SCHEMA public LIMIT TO (%s) FROM SERVER %s INTO %s`,
			pq.QuoteIdentifier(view), upstreamServer, upstreamSchema,
		),
	}
}

func dropFDWQueries() []string {
	return []string{
		fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, upstreamSchema),
		fmt.Sprintf(`DROP SERVER IF EXISTS %s CASCADE`, upstreamServer),
	}
}

// createTempTableQuery stages the refresh into a copy of the live table's
// shape, without its indices so the bulk load runs unindexed.
func createTempTableQuery(table string) string {
	return fmt.Sprintf(
		`CREATE TABLE %s (LIKE %s INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`,
		pq.QuoteIdentifier(TempTable(table)),
		pq.QuoteIdentifier(table),
	)
}

// copyDataQuery bulk-copies the shared columns from the upstream view into
// the staging table, optionally capped for non-production runs.
func copyDataQuery(table string, columns []string, limit int) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	cols := strings.Join(quoted, ", ")

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM %s.%s`,
		pq.QuoteIdentifier(TempTable(table)),
		cols, cols,
		upstreamSchema,
		pq.QuoteIdentifier(table+"_view"),
	)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

// listIndicesQuery reads the definitions of every index on the live table.
func listIndicesQuery() string {
	return `SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`
}

var indexDefPattern = regexp.MustCompile(
	`^(CREATE (?:UNIQUE )?INDEX )(\S+)( ON (?:public\.)?)(\S+)( .*)$`,
)

// RewriteIndexDef retargets an index definition at the staging table under a
// collision-free temporary name. The primary key is skipped; it travels with
// the table constraints instead. The returned mapping (temp name to original
// name) drives the rename at go-live.
func RewriteIndexDef(indexDef, table string) (rewritten, tempName, originalName string, skip bool) {
	match := indexDefPattern.FindStringSubmatch(strings.TrimSpace(indexDef))
	if match == nil {
		return "", "", "", true
	}

	originalName = match[2]
	if strings.HasSuffix(originalName, "_pkey") {
		return "", "", "", true
	}

	tempName = tempTablePrefix + originalName
	rewritten = match[1] + tempName + match[3] + TempTable(table) + match[5]
	return rewritten, tempName, originalName, false
}

// listForeignKeysQuery reads every foreign key that points at the live
// table, so the constraints can be recreated against the staging table.
func listForeignKeysQuery() string {
	return `
		SELECT con.conname,
		       src.relname AS referencing_table,
		       att.attname AS fk_column,
		       pg_get_constraintdef(con.oid) AS condef
		FROM pg_constraint con
		JOIN pg_class src ON src.oid = con.conrelid
		JOIN pg_class dst ON dst.oid = con.confrelid
		JOIN pg_attribute att
		  ON att.attrelid = con.conrelid AND att.attnum = ANY (con.conkey)
		WHERE con.contype = 'f' AND dst.relname = $1`
}

// RetargetConstraintDef points a foreign key definition at the staging
// table.
func RetargetConstraintDef(constraintDef, table string) string {
	return strings.Replace(
		constraintDef,
		"REFERENCES "+table+"(",
		"REFERENCES "+TempTable(table)+"(",
		1,
	)
}

// deleteOrphanedRowsQuery removes referencing rows whose target disappeared
// upstream, so re-adding the foreign key cannot fail.
func deleteOrphanedRowsQuery(referencingTable, fkColumn, table string) string {
	return fmt.Sprintf(
		`DELETE FROM %s WHERE %s IS NOT NULL AND %s NOT IN (SELECT identifier FROM %s)`,
		pq.QuoteIdentifier(referencingTable),
		pq.QuoteIdentifier(fkColumn),
		pq.QuoteIdentifier(fkColumn),
		pq.QuoteIdentifier(TempTable(table)),
	)
}

// goLiveQueries atomically swaps the staging table into place. The old table
// is dropped and every regenerated index takes back its original name.
func goLiveQueries(table string, indexMapping map[string]string) []string {
	queries := []string{
		fmt.Sprintf(`DROP TABLE %s CASCADE`, pq.QuoteIdentifier(table)),
	}
	for tempName, originalName := range indexMapping {
		queries = append(queries, fmt.Sprintf(
			`ALTER INDEX %s RENAME TO %s`,
			pq.QuoteIdentifier(tempName),
			pq.QuoteIdentifier(originalName),
		))
	}
	queries = append(queries, fmt.Sprintf(
		`ALTER TABLE %s RENAME TO %s`,
		pq.QuoteIdentifier(TempTable(table)),
		pq.QuoteIdentifier(table),
	))
	return queries
}
