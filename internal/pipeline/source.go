package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"ticketscan/internal"
)

// Recognizer is the OCR collaborator; *ocr.Engine satisfies it.
type Recognizer interface {
	RecognizeImage(ctx context.Context, blob []byte) (string, error)
	RecognizePDF(ctx context.Context, blob []byte) (string, error)
}

var ErrNoRecognizer = errors.New("no OCR recognizer configured")

// TicketEnvelope is a parsed email with its scannable documents in message order.
type TicketEnvelope struct {
	Subject         string
	Text            string
	AttachmentNames []string
	Documents       []internal.TicketDocument
}

func ExtractTicketDocuments(raw []byte) (TicketEnvelope, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return TicketEnvelope{}, err
	}

	out := TicketEnvelope{Subject: env.GetHeader("Subject"), Text: env.Text}

	// enmime down-converts HTML into Text when there is no text/plain part,
	// so the HTML body is only used when the sender did not supply plain text.
	plain := env.Root != nil && env.Root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "text/plain" && p.Disposition != "attachment"
	}) != nil
	switch {
	case plain && strings.TrimSpace(env.Text) != "":
		out.Documents = append(out.Documents, internal.TicketDocument{
			Source:      internal.SourceEmailText,
			Name:        "body.txt",
			ContentType: "text/plain",
			Text:        env.Text,
		})
	case strings.TrimSpace(env.HTML) != "":
		out.Documents = append(out.Documents, internal.TicketDocument{
			Source:      internal.SourceEmailHTML,
			Name:        "body.html",
			ContentType: "text/html",
			Text:        htmlText(env.HTML),
		})
		if out.Text == "" {
			out.Text = out.Documents[len(out.Documents)-1].Text
		}
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for i, part := range parts {
		filename := strings.TrimSpace(part.FileName)
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d%s", i+1, extensionByType(part.ContentType))
		}
		out.AttachmentNames = append(out.AttachmentNames, filename)

		doc, ok := documentFromPart(filename, part.ContentType, part.Content)
		if ok {
			out.Documents = append(out.Documents, doc)
		}
	}

	return out, nil
}

func documentFromPart(filename, contentType string, content []byte) (internal.TicketDocument, bool) {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(filepath.Ext(filename))
	doc := internal.TicketDocument{Name: filename, ContentType: contentType, Content: content}

	switch {
	case strings.HasPrefix(ct, "image/") || isImageExt(ext):
		doc.Source = internal.SourceEmailImage
	case ct == "application/pdf" || ext == ".pdf":
		doc.Source = internal.SourceEmailPDF
	case ct == "text/plain" || ext == ".txt":
		doc.Source = internal.SourceTextFile
		doc.Text = string(content)
	default:
		return internal.TicketDocument{}, false
	}
	return doc, true
}

// ResolveText returns the raw text of a document, running OCR when needed.
// PDFs with an embedded text layer skip OCR.
func ResolveText(ctx context.Context, rec Recognizer, doc internal.TicketDocument) (string, error) {
	if doc.Text != "" || len(doc.Content) == 0 {
		return doc.Text, nil
	}

	switch doc.Source {
	case internal.SourceEmailImage, internal.SourceImageFile, internal.SourceUpload:
		if rec == nil {
			return "", ErrNoRecognizer
		}
		return rec.RecognizeImage(ctx, doc.Content)
	case internal.SourceEmailPDF, internal.SourcePDFFile:
		if text, err := pdfText(doc.Content); err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if rec == nil {
			return "", ErrNoRecognizer
		}
		return rec.RecognizePDF(ctx, doc.Content)
	default:
		return string(doc.Content), nil
	}
}

func pdfText(content []byte) (text string, err error) {
	// the pdf reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf text: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, line := range splitLines(pageText) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "section": true, "article": true,
}

// htmlText flattens an HTML body to one line per block element or table row.
func htmlText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script,style,head").Remove()

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "td" || n.Data == "th" {
				b.WriteByte(' ')
			}
			if blockElements[n.Data] {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	lines := make([]string, 0)
	for _, line := range splitLines(b.String()) {
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(lines, "\n")
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp":
		return true
	}
	return false
}

func extensionByType(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
