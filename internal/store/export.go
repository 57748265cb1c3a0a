package store

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Frames"

var exportHeaders = []string{"Session", "Seq", "Protocol", "Valid", "Length", "Received", "Hex", "Payload", "Text"}

// ExportXLSX writes records as a single-sheet workbook.
func ExportXLSX(w io.Writer, records []FrameRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	for i, header := range exportHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(exportSheet, cell, header)
	}

	for i, rec := range records {
		row := i + 2
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), rec.Session)
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), rec.Seq)
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), rec.Protocol)
		f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), strconv.FormatBool(rec.Valid))
		f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), rec.Length)
		f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), rec.ReceivedAt.Format(time.RFC3339Nano))
		f.SetCellValue(exportSheet, fmt.Sprintf("G%d", row), rec.Hex)
		f.SetCellValue(exportSheet, fmt.Sprintf("H%d", row), rec.PayloadHex)
		f.SetCellValue(exportSheet, fmt.Sprintf("I%d", row), rec.Text)
	}

	f.SetColWidth(exportSheet, "A", "A", 16)
	f.SetColWidth(exportSheet, "B", "F", 12)
	f.SetColWidth(exportSheet, "G", "H", 60)
	f.SetColWidth(exportSheet, "I", "I", 30)

	return f.Write(w)
}
