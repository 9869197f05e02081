package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"ticketscan/internal"
	"ticketscan/internal/util"
)

func TestExportRowsToXLSX(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "entries.xlsx")
	rows := []internal.EntryExportRow{
		{TicketID: 1, EmailID: util.IntPtr(7), Source: "email_image", DocumentName: "scan.png", EntryID: 10, Seq: 1,
			Customer: "Smith, John", Address: "123 Maple Ave", Product: "Tuesday Maint", Quantity: 1, Completed: "Y", CompletedAt: util.StringPtr("2026-03-01 10:00:00")},
		{TicketID: 2, Source: "upload", DocumentName: "photo.jpg", EntryID: 11, Seq: 1,
			Customer: "Doe, Jane", Product: "Vacuum", Quantity: 1, Completed: "N"},
	}
	if err := ExportRowsToXLSX(rows, out); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0][6] != "customer" || got[1][6] != "Smith, John" || got[1][10] != "Y" {
		t.Fatalf("row1=%v", got[1])
	}
	if got[2][1] != "" || got[2][7] != "" || got[2][8] != "Vacuum" {
		t.Fatalf("row2=%v", got[2])
	}
}
