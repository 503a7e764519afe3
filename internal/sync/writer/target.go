package writer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/tidwall/gjson"
)

// RecordMapper converts one upstream record to a row in Target.Columns order.
// keep=false drops the record from the batch.
type RecordMapper func(record gjson.Result) (row []any, keep bool, err error)

// Target describes the table a synchronizer writes to
type Target struct {
	// Table is the destination table, keyed by an "id" column
	Table string
	// Columns lists the columns written from each record, "id" included
	Columns []string
	// Map converts records to rows
	Map RecordMapper
}

func (t Target) validate() error {
	if t.Table == "" {
		return fmt.Errorf("table is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("columns are required")
	}
	if !slices.Contains(t.Columns, "id") {
		return fmt.Errorf("columns of %s must include id", t.Table)
	}
	if t.Map == nil {
		return fmt.Errorf("record mapper is required")
	}
	return nil
}

// batchOrdColumn preserves the position of a row in its batch so the latest
// record wins when upstream returns the same id twice.
const batchOrdColumn = "batch_ord"

// statements holds the SQL used to stage and upsert one batch
type statements struct {
	stagingTable  string
	createStaging string
	copyColumns   []string
	upsert        string
}

func (t Target) statements() statements {
	staging := "tmp_" + t.Table
	table := pgx.Identifier{t.Table}.Sanitize()
	stagingIdent := pgx.Identifier{staging}.Sanitize()

	cols := make([]string, len(t.Columns))
	updates := make([]string, 0, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", cols[i], cols[i]))
		}
	}
	updates = append(updates, "synced_at = EXCLUDED.synced_at")
	colList := strings.Join(cols, ", ")

	return statements{
		stagingTable: staging,
		createStaging: fmt.Sprintf(
			"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS, %s bigint NOT NULL) ON COMMIT DROP",
			stagingIdent, table, batchOrdColumn),
		copyColumns: append(slices.Clone(t.Columns), batchOrdColumn),
		upsert: fmt.Sprintf(`
			INSERT INTO %s (%s, synced_at)
			SELECT DISTINCT ON (id) %s, now()
			FROM %s
			ORDER BY id, %s DESC
			ON CONFLICT (id) DO UPDATE SET %s`,
			table, colList, colList, stagingIdent, batchOrdColumn, strings.Join(updates, ", ")),
	}
}
