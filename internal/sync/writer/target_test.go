package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func passthrough(record gjson.Result) ([]any, bool, error) {
	return []any{record.Get("id").String()}, true, nil
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{name: "valid", target: Target{Table: "devices", Columns: []string{"id"}, Map: passthrough}},
		{name: "missing table", target: Target{Columns: []string{"id"}, Map: passthrough}, wantErr: "table is required"},
		{name: "missing columns", target: Target{Table: "devices", Map: passthrough}, wantErr: "columns are required"},
		{name: "missing id", target: Target{Table: "devices", Columns: []string{"name"}, Map: passthrough}, wantErr: "columns of devices must include id"},
		{name: "missing mapper", target: Target{Table: "devices", Columns: []string{"id"}}, wantErr: "record mapper is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.target.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestTargetStatements(t *testing.T) {
	t.Parallel()

	target := Target{Table: "log_records", Columns: []string{"id", "device_id", "raw"}, Map: passthrough}
	stmts := target.statements()

	assert.Equal(t, "tmp_log_records", stmts.stagingTable)
	assert.Equal(t, []string{"id", "device_id", "raw", "batch_ord"}, stmts.copyColumns)
	assert.Equal(t, []string{"id", "device_id", "raw"}, target.Columns, "target columns are not modified")
	assert.Contains(t, stmts.createStaging, `CREATE TEMP TABLE "tmp_log_records" (LIKE "log_records" INCLUDING DEFAULTS`)
	assert.Contains(t, stmts.createStaging, "ON COMMIT DROP")
	assert.Contains(t, stmts.upsert, `INSERT INTO "log_records" ("id", "device_id", "raw", synced_at)`)
	assert.Contains(t, stmts.upsert, "SELECT DISTINCT ON (id)")
	assert.Contains(t, stmts.upsert, "ORDER BY id, batch_ord DESC")
	assert.Contains(t, stmts.upsert, `"device_id" = EXCLUDED."device_id"`)
	assert.NotContains(t, stmts.upsert, `"id" = EXCLUDED."id"`)
}
