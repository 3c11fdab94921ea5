package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteIndexDef(t *testing.T) {
	t.Run("plain index retargeted under temp name", func(t *testing.T) {
		def := `CREATE INDEX image_provider_idx ON public.image USING btree (provider)`
		rewritten, tempName, originalName, skip := RewriteIndexDef(def, "image")
		require.False(t, skip)
		assert.Equal(t, "temp_import_image_provider_idx", tempName)
		assert.Equal(t, "image_provider_idx", originalName)
		assert.Equal(t,
			`CREATE INDEX temp_import_image_provider_idx ON public.temp_import_image USING btree (provider)`,
			rewritten)
	})

	t.Run("unique index keeps uniqueness", func(t *testing.T) {
		def := `CREATE UNIQUE INDEX image_identifier_key ON public.image USING btree (identifier)`
		rewritten, _, _, skip := RewriteIndexDef(def, "image")
		require.False(t, skip)
		assert.Contains(t, rewritten, "CREATE UNIQUE INDEX")
		assert.Contains(t, rewritten, "temp_import_image")
	})

	t.Run("primary key skipped", func(t *testing.T) {
		def := `CREATE UNIQUE INDEX image_pkey ON public.image USING btree (id)`
		_, _, _, skip := RewriteIndexDef(def, "image")
		assert.True(t, skip)
	})

	t.Run("unparseable definition skipped", func(t *testing.T) {
		_, _, _, skip := RewriteIndexDef("not an index definition", "image")
		assert.True(t, skip)
	})
}

func TestCopyDataQuery(t *testing.T) {
	query := copyDataQuery("image", []string{"id", "identifier", "url"}, 0)
	assert.Equal(t,
		`INSERT INTO "temp_import_image" ("id", "identifier", "url") SELECT "id", "identifier", "url" FROM upstream_schema."image_view"`,
		query)

	limited := copyDataQuery("image", []string{"id"}, 100000)
	assert.Contains(t, limited, "LIMIT 100000")
}

func TestRetargetConstraintDef(t *testing.T) {
	def := `FOREIGN KEY (identifier) REFERENCES image(identifier) DEFERRABLE INITIALLY DEFERRED`
	assert.Equal(t,
		`FOREIGN KEY (identifier) REFERENCES temp_import_image(identifier) DEFERRABLE INITIALLY DEFERRED`,
		RetargetConstraintDef(def, "image"))
}

func TestDeleteOrphanedRowsQuery(t *testing.T) {
	query := deleteOrphanedRowsQuery("api_matureimage", "identifier", "image")
	assert.Equal(t,
		`DELETE FROM "api_matureimage" WHERE "identifier" IS NOT NULL AND "identifier" NOT IN (SELECT identifier FROM "temp_import_image")`,
		query)
}

func TestGoLiveQueries(t *testing.T) {
	queries := goLiveQueries("image", map[string]string{
		"temp_import_image_provider_idx": "image_provider_idx",
	})
	require.Len(t, queries, 3)
	assert.Equal(t, `DROP TABLE "image" CASCADE`, queries[0])
	assert.Equal(t, `ALTER INDEX "temp_import_image_provider_idx" RENAME TO "image_provider_idx"`, queries[1])
	assert.Equal(t, `ALTER TABLE "temp_import_image" RENAME TO "image"`, queries[2])
}

func TestFetchRowsQuery(t *testing.T) {
	query := fetchRowsQuery("image")
	assert.Contains(t, query, `FROM "image" t`)
	assert.Contains(t, query, `"api_deletedimage"`)
	assert.Contains(t, query, `"api_matureimage"`)
	assert.Contains(t, query, "t.id > $1 AND t.id <= $2")
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "jpg", extensionOf("https://example.com/photo.JPG"))
	assert.Equal(t, "png", extensionOf("https://example.com/a/b/c.png?width=300"))
	assert.Equal(t, "", extensionOf("https://example.com/photo"))
	assert.Equal(t, "", extensionOf("https://example.com/archive.backup"))
}
