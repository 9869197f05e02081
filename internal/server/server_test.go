package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ticketscan/internal/config"
	"ticketscan/internal/ocr"
	"ticketscan/internal/pipeline"
	"ticketscan/internal/storage"
)

type fakeRecognizer struct {
	text string
	err  error
}

func (f fakeRecognizer) RecognizeImage(_ context.Context, blob []byte) (string, error) {
	if string(blob) == "not an image" {
		return "", fmt.Errorf("%w: png: invalid format", ocr.ErrInvalidImage)
	}
	return f.text, f.err
}

func (f fakeRecognizer) RecognizePDF(context.Context, []byte) (string, error) {
	return "", errors.New("unused")
}

func uploadRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "ticket.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestUploadReturnsEntries(t *testing.T) {
	raw := "JOHN SMITH\nSMITH, JOHN\n123 MAPLE AVE\nTUESDAY MAINT\nextra line"
	srv := New(fakeRecognizer{text: raw}, nil, Options{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, uploadRequest(t, "file", []byte("png bytes")))
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}

	var got struct {
		Entries []map[string]any `json:"entries"`
		RawText string           `json:"raw_text"`
		Ticket  *int             `json:"ticket_id"`
	}
	decode(t, rr, &got)
	if got.RawText != raw || got.Ticket != nil {
		t.Fatalf("got=%+v", got)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("entries=%v", got.Entries)
	}
	e := got.Entries[0]
	if e["customer"] != "Smith, John" || e["address"] != "123 Maple Ave" || e["product"] != "Tuesday Maint" ||
		e["quantity"] != float64(1) || e["completed"] != "N" {
		t.Fatalf("entry=%v", e)
	}
}

func TestUploadEmptyResultIsStillOK(t *testing.T) {
	srv := New(fakeRecognizer{text: ""}, nil, Options{}, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, uploadRequest(t, "file", []byte("blank page")))
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	if rr.Body.String() != "{\"entries\":[],\"raw_text\":\"\"}\n" {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestUploadErrors(t *testing.T) {
	cases := []struct {
		name  string
		rec   fakeRecognizer
		field string
		body  []byte
		code  int
		msg   string
	}{
		{"invalid image", fakeRecognizer{}, "file", []byte("not an image"), http.StatusBadRequest, "Invalid image file"},
		{"ocr failure", fakeRecognizer{err: errors.New("tesseract: exit status 1")}, "file", []byte("png"), http.StatusInternalServerError, "tesseract: exit status 1"},
		{"missing field", fakeRecognizer{}, "image", []byte("png"), http.StatusBadRequest, "missing multipart field \"file\""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(tc.rec, nil, Options{}, nil)
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, uploadRequest(t, tc.field, tc.body))
			if rr.Code != tc.code {
				t.Fatalf("code=%d", rr.Code)
			}
			var got map[string]string
			decode(t, rr, &got)
			if got["error"] != tc.msg {
				t.Fatalf("error=%q", got["error"])
			}
		})
	}
}

func TestUploadStoredAndCompleted(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rec := fakeRecognizer{text: "SMITH, JOHN\n123 MAPLE AVE\nTUESDAY MAINT\n"}
	proc := pipeline.NewProcessingService(db, config.Config{}, rec, nil)
	srv := New(rec, proc.Scanner(), Options{Recorder: proc, Store: db}, nil)
	h := srv.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "file", []byte("png bytes")))
	var up struct {
		TicketID *int `json:"ticket_id"`
	}
	decode(t, rr, &up)
	if up.TicketID == nil {
		t.Fatalf("body=%s", rr.Body.String())
	}

	type listResp struct {
		Entries []struct {
			ID          int     `json:"id"`
			Completed   string  `json:"completed"`
			CompletedAt *string `json:"completed_at"`
		} `json:"entries"`
	}
	list := func() listResp {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/tickets/%d/entries", *up.TicketID), nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("list code=%d body=%s", rr.Code, rr.Body.String())
		}
		var out listResp
		decode(t, rr, &out)
		return out
	}

	entries := list()
	if len(entries.Entries) != 1 || entries.Entries[0].Completed != "N" {
		t.Fatalf("entries=%+v", entries)
	}
	entryID := entries.Entries[0].ID

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/entries/%d/complete", entryID), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("complete code=%d", rr.Code)
	}
	if e := list().Entries[0]; e.Completed != "Y" || e.CompletedAt == nil {
		t.Fatalf("after complete=%+v", e)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/entries/%d/complete?undo=1", entryID), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("undo code=%d", rr.Code)
	}
	if e := list().Entries[0]; e.Completed != "N" || e.CompletedAt != nil {
		t.Fatalf("after undo=%+v", e)
	}

	for path, code := range map[string]int{
		"/tickets/999/entries": http.StatusNotFound,
		"/tickets/abc/entries": http.StatusBadRequest,
	} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != code {
			t.Fatalf("%s code=%d", path, rr.Code)
		}
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/entries/999/complete", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing entry code=%d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	New(nil, nil, Options{}, nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
}
