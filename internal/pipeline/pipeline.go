package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/message"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/firefart/dmarcingest/internal/store"
)

// ErrNoAttachments is returned when an email carries no report attachment.
var ErrNoAttachments = errors.New("no attachments")

// ReportResult describes a processed report attachment.
type ReportResult struct {
	Filename      string
	ReportID      string
	OrgName       string
	Domain        string
	Rows          int
	AttachmentURL string
	Outcome       *store.Outcome
}

// MessageResult describes a processed report email.
type MessageResult struct {
	Email  *message.Email
	Report *ReportResult
}

// Pipeline turns report attachments into stored rows. A Pipeline holds no
// per report state and can be shared by concurrent callers as long as the
// storage can.
type Pipeline struct {
	storage        store.Storage
	coordinator    *store.Coordinator
	logger         *slog.Logger
	maxDecodedSize int64
}

// New creates a Pipeline. resolver may be nil to skip the source dns lookup.
func New(storage store.Storage, resolver store.HostResolver, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		storage:        storage,
		coordinator:    store.NewCoordinator(storage, resolver, logger),
		logger:         logger.With("component", "pipeline"),
		maxDecodedSize: dmarc.DefaultMaxDecodedSize,
	}
}

// WithMaxDecodedSize sets the limit for the inflated size of compressed
// attachments.
func (p *Pipeline) WithMaxDecodedSize(n int64) *Pipeline {
	p.maxDecodedSize = n
	return p
}

// ProcessReport decodes, normalizes and persists a single report attachment
// with the default logger and no dns enrichment.
func ProcessReport(ctx context.Context, att dmarc.RawAttachment, storage store.Storage) (*store.Outcome, error) {
	res, err := New(storage, nil, slog.Default()).ProcessReport(ctx, att)
	if err != nil {
		return nil, err
	}
	return res.Outcome, nil
}

// ProcessMessage parses a raw email and processes its first attachment.
func (p *Pipeline) ProcessMessage(ctx context.Context, r io.Reader) (*MessageResult, error) {
	email, err := message.Parse(r)
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsed email",
		"from", email.From,
		"subject", email.Subject,
		"date", email.Date,
		"message_id", email.MessageID,
		"attachments", len(email.Attachments))

	if len(email.Attachments) == 0 {
		metrics.ReportsProcessed.WithLabelValues("no_attachment").Inc()
		return &MessageResult{Email: email}, ErrNoAttachments
	}
	if len(email.Attachments) > 1 {
		p.logger.Warn("email has more than one attachment, only processing the first one", "attachments", len(email.Attachments))
	}

	report, err := p.ProcessReport(ctx, email.Attachments[0])
	if err != nil {
		return &MessageResult{Email: email}, err
	}
	return &MessageResult{Email: email, Report: report}, nil
}

// ProcessReport decodes, normalizes and persists a single report attachment.
// Errors of the decode, normalize and persist steps are returned unwrapped.
func (p *Pipeline) ProcessReport(ctx context.Context, att dmarc.RawAttachment) (*ReportResult, error) {
	res, err := p.processReport(ctx, att)
	metrics.ReportsProcessed.WithLabelValues(resultLabel(res, err)).Inc()
	return res, err
}

func (p *Pipeline) processReport(ctx context.Context, att dmarc.RawAttachment) (*ReportResult, error) {
	logger := p.logger.With("filename", att.Filename, "mime_type", att.MIMEType)
	logger.Info("got attachment", "size", len(att.Content))

	xmlText, err := dmarc.DecodeAttachmentLimit(att, p.maxDecodedSize)
	if err != nil {
		logger.Error("could not decode attachment", "error", err)
		return nil, err
	}

	tree, err := dmarc.ParseTree(xmlText)
	if err != nil {
		return nil, fmt.Errorf("could not parse file %s: %w", att.Filename, err)
	}

	rows, err := dmarc.Normalize(tree)
	if err != nil {
		logger.Error("invalid report", "error", err)
		return nil, err
	}

	res := &ReportResult{
		Filename: att.Filename,
		Rows:     len(rows),
	}
	if len(rows) > 0 {
		res.ReportID = rows[0].ReportMetadataReportID
		res.OrgName = rows[0].ReportMetadataOrgName
		res.Domain = rows[0].PolicyPublishedDomain
	}
	logger = logger.With("report_id", res.ReportID, "org_name", res.OrgName, "domain", res.Domain)
	logger.Info("normalized report", "rows", len(rows))

	var attachmentRef *string
	url, err := p.storage.UploadFile(ctx, att.Filename, att.Content)
	switch {
	case errors.Is(err, store.ErrNoFileStore):
		logger.Debug("no file storage configured, skipping upload")
	case err != nil:
		logger.Warn("could not upload attachment, storing rows without reference", "error", err)
	default:
		logger.Debug("uploaded attachment", "url", url)
		res.AttachmentURL = url
		attachmentRef = &url
	}

	outcome, err := p.coordinator.Persist(ctx, rows, attachmentRef)
	if err != nil {
		metrics.RowsPersisted.WithLabelValues("failed").Add(float64(len(rows)))
		metrics.PersistFallbacks.Inc()
		logger.Error("could not persist report", "rows", len(rows), "error", err)
		return nil, err
	}
	res.Outcome = outcome

	metrics.RowsPersisted.WithLabelValues("succeeded").Add(float64(outcome.Succeeded))
	metrics.RowsPersisted.WithLabelValues("failed").Add(float64(outcome.Failed))
	if outcome.UsedFallback {
		metrics.PersistFallbacks.Inc()
	}

	logger.Info("persisted report", "succeeded", outcome.Succeeded, "failed", outcome.Failed)
	return res, nil
}

func resultLabel(res *ReportResult, err error) string {
	var unsupported *dmarc.UnsupportedFormatError
	var decompression *dmarc.DecompressionError
	var structure *dmarc.InvalidReportStructureError
	var allFailed *store.AllInsertsFailedError
	switch {
	case err == nil && res != nil && res.Outcome != nil && res.Outcome.Failed > 0:
		return "partial"
	case err == nil:
		return "success"
	case errors.As(err, &unsupported):
		return "unsupported_format"
	case errors.As(err, &decompression), errors.Is(err, dmarc.ErrEmptyArchive):
		return "decompression_error"
	case errors.As(err, &structure):
		return "invalid_structure"
	case errors.As(err, &allFailed):
		return "persist_failed"
	default:
		return "error"
	}
}
