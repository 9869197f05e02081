package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ticketscan/internal"
)

// LoadInput reads a local ticket file into a document. inputType is one of
// text, html, image or pdf.
func LoadInput(inputType string, input string) (internal.TicketDocument, error) {
	blob, err := os.ReadFile(input)
	if err != nil {
		return internal.TicketDocument{}, err
	}
	doc := internal.TicketDocument{Name: filepath.Base(input)}

	switch inputType {
	case "text":
		doc.Source = internal.SourceTextFile
		doc.Text = string(blob)
	case "html":
		doc.Source = internal.SourceTextFile
		doc.Text = htmlText(string(blob))
	case "image":
		doc.Source = internal.SourceImageFile
		doc.Content = blob
	case "pdf":
		doc.Source = internal.SourcePDFFile
		doc.Content = blob
	default:
		return internal.TicketDocument{}, fmt.Errorf("unsupported input type: %s", inputType)
	}
	return doc, nil
}

func ExtractTextFromInput(ctx context.Context, rec Recognizer, inputType string, input string) (string, error) {
	doc, err := LoadInput(inputType, input)
	if err != nil {
		return "", err
	}
	return ResolveText(ctx, rec, doc)
}
