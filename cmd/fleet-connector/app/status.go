package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/fleet-feed-connector/internal/db"
	"github.com/stacklok/fleet-feed-connector/internal/entities"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark of every synchronizer",
	Long: `Show the durable progress of every synchronizer: last cursor, records
processed and the connector instance that last advanced it.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	statusCmd.Flags().String("format", "table", "Output format (table or json)")

	if err := statusCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported format %q", format)
	}

	dbCfg, err := loadDatabaseConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	watermarks, err := state.NewDBWatermarkStore(pool).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list watermarks: %w", err)
	}
	slog.Debug("Listed watermarks", "count", len(watermarks))

	if format == "json" {
		return writeWatermarksJSON(cmd.OutOrStdout(), watermarks)
	}
	return writeWatermarksTable(cmd.OutOrStdout(), watermarks, time.Now())
}

func writeWatermarksJSON(w io.Writer, watermarks []state.Watermark) error {
	if watermarks == nil {
		watermarks = []state.Watermark{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(watermarks)
}

func writeWatermarksTable(w io.Writer, watermarks []state.Watermark, now time.Time) error {
	rows := make([][]string, 0, len(watermarks))
	for _, wm := range watermarks {
		cursor := wm.LastCursor
		if cursor == "" {
			cursor = "-"
		}
		feedType := "-"
		if def, ok := entities.ByID(wm.ServiceID); ok {
			feedType = def.FeedType
		}
		rows = append(rows, []string{
			string(wm.ServiceID),
			feedType,
			cursor,
			strconv.FormatInt(wm.RecordsProcessed, 10),
			age(wm.LastBatchAt, now),
			wm.AdapterVersion,
			wm.AdapterHost,
		})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Service", "Feed", "Cursor", "Records", "Last Batch", "Version", "Host")
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build table: %w", err)
	}
	return table.Render()
}

// age renders how long ago t was, or "never"
func age(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return now.Sub(*t).Truncate(time.Second).String() + " ago"
}
