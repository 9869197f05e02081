package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ticketscan/internal"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractTextFromInput(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecognizer{images: map[string]string{"IMG": "SMITH, JOHN\nVACUUM"}}

	got, err := ExtractTextFromInput(ctx, rec, "text", writeInput(t, "t.txt", "Smith, John\nVacuum\n"))
	if err != nil || got != "Smith, John\nVacuum\n" {
		t.Fatalf("text got=%q err=%v", got, err)
	}

	got, err = ExtractTextFromInput(ctx, rec, "html", writeInput(t, "t.html", "<p>Smith, John</p><p>Vacuum</p>"))
	if err != nil || got != "Smith, John\nVacuum" {
		t.Fatalf("html got=%q err=%v", got, err)
	}

	got, err = ExtractTextFromInput(ctx, rec, "image", writeInput(t, "t.png", "IMG"))
	if err != nil || got != "SMITH, JOHN\nVACUUM" {
		t.Fatalf("image got=%q err=%v", got, err)
	}

	if _, err := ExtractTextFromInput(ctx, rec, "xlsx", writeInput(t, "t.xlsx", "")); err == nil {
		t.Fatal("expected unsupported type error")
	}
	if _, err := ExtractTextFromInput(ctx, rec, "text", filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoadInputSources(t *testing.T) {
	cases := map[string]internal.TicketSource{
		"text":  internal.SourceTextFile,
		"image": internal.SourceImageFile,
		"pdf":   internal.SourcePDFFile,
	}
	path := writeInput(t, "scan.bin", "x")
	for inputType, want := range cases {
		doc, err := LoadInput(inputType, path)
		if err != nil {
			t.Fatalf("%s: %v", inputType, err)
		}
		if doc.Source != want || doc.Name != "scan.bin" {
			t.Fatalf("%s: doc=%+v", inputType, doc)
		}
	}
}
