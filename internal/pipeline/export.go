package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"ticketscan/internal"
	"ticketscan/internal/util"
)

var exportHeaders = []string{
	"ticket_id", "email_id", "source", "document",
	"entry_id", "seq", "customer", "address", "product", "quantity",
	"completed", "completed_at",
}

func ExportRowsToXLSX(rows []internal.EntryExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.TicketID)
		set(2, derefInt(row.EmailID))
		set(3, row.Source)
		set(4, row.DocumentName)
		set(5, row.EntryID)
		set(6, row.Seq)
		set(7, row.Customer)
		set(8, row.Address)
		set(9, row.Product)
		set(10, row.Quantity)
		set(11, row.Completed)
		set(12, util.DerefString(row.CompletedAt))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
