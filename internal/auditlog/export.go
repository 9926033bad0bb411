package auditlog

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
)

const exportSheet = "Audit Log"

var exportHeader = []string{"Timestamp", "Action", "Actor", "Target", "Description", "Metadata"}

var exportWidths = []float64{22, 24, 38, 38, 60, 60}

func writeWorkbook(rows []models.AuditLog, w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return err
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return err
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(exportSheet, name, name, exportWidths[col]); err != nil {
			return err
		}
	}

	for i, row := range rows {
		meta, err := json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		values := []any{
			row.Timestamp.UTC().Format(time.RFC3339),
			string(row.Action),
			uuidString(row.UserID),
			uuidString(row.TargetID),
			row.Description,
			string(meta),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	_, err = f.WriteTo(w)
	return err
}

func uuidString(v *uuid.UUID) string {
	if v == nil {
		return ""
	}
	return v.String()
}
