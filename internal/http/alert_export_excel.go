package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"dryer-alarm/internal/models"

	"github.com/xuri/excelize/v2"
)

const alertExportSheet = "Alerts"

// AlertExportHeader 报警导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Dryer ID",
	"Alert Type",
	"Severity",
	"Status",
	"Message",
	"Threshold Value",
	"Current Value",
	"Created At",
	"Acknowledged At",
	"Resolved At",
	"Dismissed At",
}

var alertExportColumnWidths = []float64{
	38, // Alert ID
	38, // Dryer ID
	22, // Alert Type
	12, // Severity
	14, // Status
	60, // Message
	16, // Threshold Value
	16, // Current Value
	22, // Created At
	22, // Acknowledged At
	22, // Resolved At
	22, // Dismissed At
}

// GenerateAlertExport 生成报警导出 Excel 文件；alerts 为空时只有表头
func GenerateAlertExport(alerts []*models.Alert) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(alertExportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDECEA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 表头
	for col, header := range AlertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(alertExportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(alertExportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, width := range alertExportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(alertExportSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 数据（从第 2 行开始）
	for i, a := range alerts {
		row := i + 2
		values := []any{
			a.ID,
			a.DryerID,
			string(a.Type),
			string(a.Severity),
			string(a.Status),
			a.Message,
			floatCell(a.ThresholdValue),
			floatCell(a.CurrentValue),
			timeCell(&a.CreatedAt),
			timeCell(a.AcknowledgedAt),
			timeCell(a.ResolvedAt),
			timeCell(a.DismissedAt),
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(alertExportSheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(alertExportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	return buf.Bytes(), nil
}

// AlertExportFilename 导出文件名（按日期）
func AlertExportFilename(now time.Time) string {
	return fmt.Sprintf("alerts-%s.xlsx", now.UTC().Format("2006-01-02"))
}

func floatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timeCell(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
