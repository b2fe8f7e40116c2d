package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/xuri/excelize/v2"
)

const directorySheet = "Directory"

var directoryHeaders = []string{"Member ID", "Membership ID", "Display Name", "Username", "Email", "Status", "Joined At", "Updated At"}

var directoryWidths = []float64{28, 28, 28, 20, 32, 10, 22, 22}

// buildDirectoryWorkbook writes one row per member; every custom field key
// seen across the rows becomes an extra column.
func buildDirectoryWorkbook(members []member.Member) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), directorySheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	customKeys := customFieldKeys(members)
	headers := append(append([]string{}, directoryHeaders...), customKeys...)
	for col, header := range headers {
		if err := setCell(f, col+1, 1, header); err != nil {
			return nil, err
		}
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellStyle(directorySheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		width := 20.0
		if col < len(directoryWidths) {
			width = directoryWidths[col]
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(directorySheet, name, name, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, m := range members {
		row := i + 2
		values := []any{
			m.MemberID,
			member.Deref(m.MembershipID),
			member.Deref(m.DisplayName),
			member.Deref(m.Username),
			member.Deref(m.Email),
			string(m.Status),
			m.JoinedAt.UTC().Format("2006-01-02 15:04:05"),
			m.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for _, key := range customKeys {
			values = append(values, cellValue(m.CustomFields[key]))
		}
		for col, v := range values {
			if v == nil || v == "" {
				continue
			}
			if err := setCell(f, col+1, row, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(directorySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellValue(directorySheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}

func customFieldKeys(members []member.Member) []string {
	seen := map[string]struct{}{}
	for _, m := range members {
		for k := range m.CustomFields {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cellValue flattens nested answers to JSON text.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, float64, int, int64:
		return t
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
