package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ticketscan/internal"
	"ticketscan/internal/logging"
	"ticketscan/internal/ocr"
	"ticketscan/internal/pipeline"
	"ticketscan/internal/storage"
)

const defaultMaxUploadBytes = 20 << 20

// Recorder persists an uploaded scan; *pipeline.ProcessingService satisfies it.
type Recorder interface {
	RecordScan(emailID *int, doc internal.TicketDocument, result internal.ScanResult) (int, error)
}

// Store backs the ticket and entry endpoints; *storage.DB satisfies it.
type Store interface {
	GetTicket(id int) (*internal.TicketRow, error)
	ListEntries(ticketID int) ([]internal.EntryRow, error)
	SetEntryCompleted(entryID int, done bool) error
}

type Options struct {
	MaxUploadBytes int64
	Recorder       Recorder // nil disables upload persistence
	Store          Store    // nil disables the ticket and entry endpoints
}

type Server struct {
	recognizer pipeline.Recognizer
	scanner    *pipeline.Scanner
	opts       Options
	logger     *slog.Logger
	mux        *http.ServeMux
}

func New(rec pipeline.Recognizer, scanner *pipeline.Scanner, opts Options, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if scanner == nil {
		scanner = pipeline.NewScanner(nil, logger)
	}
	s := &Server{
		recognizer: rec,
		scanner:    scanner,
		opts:       opts,
		logger:     logging.OrDefault(logger),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /upload/", s.handleUpload)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Store != nil {
		s.mux.HandleFunc("GET /tickets/{id}/entries", s.handleListEntries)
		s.mux.HandleFunc("POST /entries/{id}/complete", s.handleComplete)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

type uploadResponse struct {
	Entries  []internal.Entry `json:"entries"`
	RawText  string           `json:"raw_text"`
	TicketID *int             `json:"ticket_id,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.recognizer == nil {
		writeError(w, http.StatusInternalServerError, pipeline.ErrNoRecognizer.Error())
		return
	}

	raw, err := s.recognizer.RecognizeImage(r.Context(), blob)
	if errors.Is(err, ocr.ErrInvalidImage) {
		s.logger.Info("upload rejected", "file", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid image file")
		return
	}
	if err != nil {
		s.logger.Error("upload ocr failed", "file", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := s.scanner.Extract(raw)
	resp := uploadResponse{Entries: result.Entries, RawText: raw}

	if s.opts.Recorder != nil {
		ticketID, err := s.opts.Recorder.RecordScan(nil, internal.TicketDocument{
			Source:      internal.SourceUpload,
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     blob,
		}, result)
		if err != nil {
			s.logger.Error("upload not stored", "file", header.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.TicketID = &ticketID
	}

	s.logger.Info("upload scanned", "file", header.Filename, "bytes", len(blob), "entries", len(result.Entries))
	writeJSON(w, http.StatusOK, resp)
}

type entryView struct {
	ID          int     `json:"id"`
	Seq         int     `json:"seq"`
	Customer    string  `json:"customer"`
	Address     string  `json:"address"`
	Product     string  `json:"product"`
	Quantity    int     `json:"quantity"`
	Completed   string  `json:"completed"`
	CompletedAt *string `json:"completed_at"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ticket, err := s.opts.Store.GetTicket(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ticket == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("ticket %d not found", id))
		return
	}

	rows, err := s.opts.Store.ListEntries(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]entryView, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryView{
			ID:          row.ID,
			Seq:         row.Seq,
			Customer:    row.Entry.Customer,
			Address:     row.Entry.Address,
			Product:     row.Entry.Product,
			Quantity:    row.Entry.Quantity,
			Completed:   string(row.Entry.Completed),
			CompletedAt: row.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "entries": out})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	done := r.URL.Query().Get("undo") == ""
	err := s.opts.Store.SetEntryCompleted(id, done)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flag := internal.CompletedYes
	if !done {
		flag = internal.CompletedNo
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "completed": flag})
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
