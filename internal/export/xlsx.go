// Package export renders stored sessions as spreadsheets.
package export

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spherical/doc-chat/internal/observability"
	"github.com/spherical/doc-chat/internal/session"
)

// Sheet names.
const (
	HistorySheet   = "Chat History"
	ExtractedSheet = "Extracted Text"
)

// Exporter produces XLSX workbooks from sessions.
type Exporter struct {
	logger *observability.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger *observability.Logger) *Exporter {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Exporter{logger: logger.WithOperation("export")}
}

// SessionXLSX returns a workbook with the chat history and the extracted text
// of sess, one row per turn and one row per page.
func (e *Exporter) SessionXLSX(sess *session.Session) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ExtractedSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	writeRow(f, HistorySheet, 1, "#", "Role", "Content")
	for i, turn := range sess.ChatHistory {
		writeRow(f, HistorySheet, i+2, i+1, turn.Role, turn.Content)
	}
	_ = f.SetColWidth(HistorySheet, "A", "A", 6)
	_ = f.SetColWidth(HistorySheet, "B", "B", 12)
	_ = f.SetColWidth(HistorySheet, "C", "C", 100)

	pages := ExtractedRows(sess.ExtractedText)
	writeRow(f, ExtractedSheet, 1, "Page", "Text")
	for i, p := range pages {
		writeRow(f, ExtractedSheet, i+2, p[0], p[1])
	}
	_ = f.SetColWidth(ExtractedSheet, "A", "A", 10)
	_ = f.SetColWidth(ExtractedSheet, "B", "B", 120)

	idx, _ := f.GetSheetIndex(HistorySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info().
		Str("session_id", sess.ID).
		Int("turns", len(sess.ChatHistory)).
		Int("pages", len(pages)).
		Dur("elapsed", time.Since(start)).
		Msg("session exported")
	return buf.Bytes(), nil
}

// ExtractedRows flattens stored extracted text into (key, text) rows. Numeric
// page keys sort numerically and come before any other keys.
func ExtractedRows(extracted interface{}) [][2]string {
	m, ok := extracted.(map[string]interface{})
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return keys[i] < keys[j]
	})

	rows := make([][2]string, 0, len(keys))
	for _, k := range keys {
		text, ok := m[k].(string)
		if !ok {
			text = fmt.Sprintf("%v", m[k])
		}
		rows = append(rows, [2]string{k, text})
	}
	return rows
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
