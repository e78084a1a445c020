package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/firefart/dmarcingest/internal/pipeline"
	"github.com/firefart/dmarcingest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor handles inbound reports.
type Processor interface {
	ProcessMessage(ctx context.Context, r io.Reader) (*pipeline.MessageResult, error)
	ProcessReport(ctx context.Context, att dmarc.RawAttachment) (*pipeline.ReportResult, error)
}

// Querier returns stored records.
type Querier interface {
	Query(ctx context.Context, filter store.Filter, limit int) ([]store.Record, error)
}

type Server struct {
	processor   Processor
	querier     Querier
	logger      *slog.Logger
	maxBodySize int64
}

func New(processor Processor, querier Querier, maxBodySize int64, logger *slog.Logger) *Server {
	return &Server{
		processor:   processor,
		querier:     querier,
		logger:      logger.With("component", "http"),
		maxBodySize: maxBodySize,
	}
}

// Routes returns the http handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/reports", s.handleMessage)
	r.Post("/attachments", s.handleAttachment)
	r.Get("/records", s.handleRecords)

	return r
}

// NewHTTPServer wraps the routes in a http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type reportResponse struct {
	Filename      string   `json:"filename,omitempty"`
	ReportID      string   `json:"reportId,omitempty"`
	Rows          int      `json:"rows"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	InsertedIDs   []string `json:"insertedIds"`
	AttachmentURL string   `json:"attachmentUrl,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBodySize)
	res, err := s.processor.ProcessMessage(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReport(w, res.Report)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	mimeType := r.URL.Query().Get("mimeType")
	if mimeType == "" {
		mimeType = r.Header.Get("Content-Type")
	}
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.processor.ProcessReport(r.Context(), dmarc.RawAttachment{
		Filename: r.URL.Query().Get("filename"),
		MIMEType: mimeType,
		Content:  content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReport(w, res)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
	}
	records, err := s.querier.Query(r.Context(), store.Filter{
		Domain:   q.Get("domain"),
		ReportID: q.Get("reportId"),
		OrgName:  q.Get("orgName"),
	}, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeReport(w http.ResponseWriter, res *pipeline.ReportResult) {
	resp := reportResponse{
		Filename:      res.Filename,
		ReportID:      res.ReportID,
		Rows:          res.Rows,
		AttachmentURL: res.AttachmentURL,
		InsertedIDs:   []string{},
	}
	status := http.StatusOK
	if res.Outcome != nil {
		resp.Succeeded = res.Outcome.Succeeded
		resp.Failed = res.Outcome.Failed
		if res.Outcome.InsertedIDs != nil {
			resp.InsertedIDs = res.Outcome.InsertedIDs
		}
		if res.Outcome.Failed > 0 {
			status = http.StatusMultiStatus
		}
	}
	s.writeJSON(w, status, resp)
}

func statusForError(err error) int {
	var unsupported *dmarc.UnsupportedFormatError
	var decompression *dmarc.DecompressionError
	var structure *dmarc.InvalidReportStructureError
	var allFailed *store.AllInsertsFailedError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrNoAttachments):
		return http.StatusBadRequest
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &decompression), errors.Is(err, dmarc.ErrEmptyArchive), errors.As(err, &structure):
		return http.StatusUnprocessableEntity
	case errors.As(err, &allFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	reqID := middleware.GetReqID(r.Context())
	s.logger.Error("request failed", "path", r.URL.Path, "status", status, "request_id", reqID, "error", err)
	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: reqID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("could not write response", "error", err)
	}
}
