package presence

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/goodtune/basetrack/internal/storage"
)

const (
	// DefaultLeaderboardSize is the number of entries shown by the leaderboard.
	DefaultLeaderboardSize = 3

	// ExportFileName is the file name offered for the CSV export.
	ExportFileName = "relatorio_sede.csv"

	msPerHour = 3_600_000
)

// ExportHeader is the header row of the CSV export.
var ExportHeader = []string{"Usuario", "Horas"}

// ExportRow is one line of the weekly export.
type ExportRow struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Hours       string `json:"hours"`
}

// CurrentTotal returns the weekly total of a user at now, including the
// elapsed part of an open session.
func CurrentTotal(state *storage.State, userID string, now int64) int64 {
	var total int64
	if record, ok := state.Record(userID); ok {
		total = record.TotalMs
	}
	if session, ok := state.ActiveSession(userID); ok {
		if elapsed := now - session.StartedAt; elapsed > 0 {
			total += elapsed
		}
	}
	return total
}

// TopRanked returns at most n history records ordered by total, highest
// first. Equal totals keep their history order.
func TopRanked(state *storage.State, n int) []storage.HistoryRecord {
	if n <= 0 {
		return []storage.HistoryRecord{}
	}

	ranked := state.History()
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalMs > ranked[j].TotalMs
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// ExportRows returns one row per history record, in history order.
func ExportRows(state *storage.State) []ExportRow {
	history := state.History()
	rows := make([]ExportRow, 0, len(history))
	for _, record := range history {
		rows = append(rows, ExportRow{
			UserID:      record.UserID,
			DisplayName: record.DisplayName,
			Hours:       FormatHours(record.TotalMs),
		})
	}
	return rows
}

// FormatHours renders milliseconds as hours with two decimals, rounding
// half up.
func FormatHours(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	centi := (ms*100 + msPerHour/2) / msPerHour
	return fmt.Sprintf("%d.%02d", centi/100, centi%100)
}

// WriteCSV writes the export rows as ';' separated CSV with a header.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.DisplayName, row.Hours}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatDuration renders milliseconds as "Hh Mm Ss".
func FormatDuration(ms int64) string {
	seconds := wholeSeconds(ms)
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FormatHoursMinutes renders milliseconds as "Hh Mm".
func FormatHoursMinutes(ms int64) string {
	seconds := wholeSeconds(ms)
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

func wholeSeconds(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms / 1000
}

// GetTotal returns the weekly total of a user at now.
func (t *Tracker) GetTotal(ctx context.Context, userID string, now int64) (int64, error) {
	state, err := t.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return CurrentTotal(state, userID, now), nil
}

// GetTop returns the weekly leaderboard. Open sessions are not counted until
// they are flushed.
func (t *Tracker) GetTop(ctx context.Context, n int) ([]storage.HistoryRecord, error) {
	state, err := t.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return TopRanked(state, n), nil
}

// Export returns the weekly export rows.
func (t *Tracker) Export(ctx context.Context) ([]ExportRow, error) {
	state, err := t.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ExportRows(state), nil
}
