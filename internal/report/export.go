package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/inboundfound/hubsync/internal/reconcile"
)

const (
	sheetSummary = "Summary"
	sheetChanges = "Changes"
)

// ExportWorkbook writes the cycle summary and store report to an xlsx
// workbook at path: a Summary sheet with per-type entity counts and store
// totals, and a Changes sheet listing relationship change events.
func ExportWorkbook(path string, cycle reconcile.CycleSummary, storeReport StoreReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	f.SetSheetName("Sheet1", sheetSummary)
	if err := writeSummarySheet(f, cycle, storeReport); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetChanges); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheetChanges, err)
	}
	if err := writeChangesSheet(f, storeReport); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, cycle reconcile.CycleSummary, storeReport StoreReport) error {
	rows := [][]any{
		{"Cycle", cycle.CycleID.String()},
		{"Started", cycle.StartedAt.Format(time.RFC3339)},
		{"Duration", cycle.Duration.String()},
		{},
		{"Entity Type", "New", "Updated", "Unchanged", "Deleted", "Skipped"},
	}

	entityTypes := make([]string, 0, len(cycle.Entities))
	for entityType := range cycle.Entities {
		entityTypes = append(entityTypes, entityType)
	}
	sort.Strings(entityTypes)
	for _, entityType := range entityTypes {
		ts := cycle.Entities[entityType]
		rows = append(rows, []any{entityType, ts.New, ts.Updated, ts.Unchanged, ts.Deleted, ts.Skipped})
	}

	rel := cycle.Relationships
	rows = append(rows,
		[]any{},
		[]any{"Relationships", "Added", "Removed", "Unchanged", "Filtered", "Held", "Immutable"},
		[]any{"", rel.Added, rel.Removed, rel.Unchanged, rel.FilteredDangling, rel.RemovalsHeld, rel.ImmutableSeen},
		[]any{},
		[]any{"Store Totals", "Live", "Deleted", "History"},
	)
	for _, total := range storeReport.Totals {
		rows = append(rows, []any{total.EntityType, total.Live, total.Deleted, total.History})
	}

	return writeRows(f, sheetSummary, rows)
}

func writeChangesSheet(f *excelize.File, storeReport StoreReport) error {
	rows := [][]any{
		{"Detected At", "Kind", "Relationship", "From Type", "From Key", "To Type", "To Key"},
	}
	for _, event := range storeReport.Events {
		rows = append(rows, []any{
			event.DetectedAt.Format(time.RFC3339),
			string(event.ChangeKind),
			event.RelType,
			event.FromType,
			event.FromKey,
			event.ToType,
			event.ToKey,
		})
	}
	return writeRows(f, sheetChanges, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", i+1, sheet, err)
		}
	}
	return nil
}
