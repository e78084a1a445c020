package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/hashicorp/go-multierror"
)

// HostResolver resolves the PTR names of an ip address.
type HostResolver interface {
	CachedDNSLookup(ip string) ([]string, error)
}

// ItemResult is the outcome of persisting a single row.
type ItemResult struct {
	Index int
	ID    string
	Err   error
}

// Outcome summarizes one Persist call.
type Outcome struct {
	Succeeded    int
	Failed       int
	InsertedIDs  []string
	Items        []ItemResult
	UsedFallback bool
}

// Coordinator writes report rows with a batch insert and falls back to
// inserting the rows one by one if the batch is rejected.
type Coordinator struct {
	storage  Storage
	resolver HostResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a Coordinator. resolver may be nil to skip the
// source dns enrichment.
func NewCoordinator(storage Storage, resolver HostResolver, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		storage:  storage,
		resolver: resolver,
		logger:   logger.With("component", "persist"),
		now:      time.Now,
	}
}

// Persist stores the rows. A partial failure is not an error, callers need to
// check Outcome.Failed. If every insert failed an *AllInsertsFailedError is
// returned.
func (c *Coordinator) Persist(ctx context.Context, rows []dmarc.Row, attachmentRef *string) (*Outcome, error) {
	outcome := &Outcome{}
	if len(rows) == 0 {
		return outcome, nil
	}

	records := c.stamp(rows, attachmentRef)

	ids, batchErr := c.storage.InsertBatch(ctx, records)
	if batchErr == nil {
		outcome.Succeeded = len(records)
		outcome.InsertedIDs = ids
		outcome.Items = make([]ItemResult, len(records))
		for i := range records {
			outcome.Items[i].Index = i
			if i < len(ids) {
				outcome.Items[i].ID = ids[i]
			}
		}
		c.logger.Debug("batch insert succeeded", "rows", len(records))
		return outcome, nil
	}

	c.logger.Warn("batch insert failed, inserting rows individually", "rows", len(records), "error", batchErr)
	outcome.UsedFallback = true
	outcome.Items = make([]ItemResult, 0, len(records))

	var errs *multierror.Error
	for i, record := range records {
		id, err := c.storage.InsertOne(ctx, record)
		if err != nil {
			c.logger.Error("could not insert row", "index", i, "report_id", record.ReportMetadataReportID, "source_ip", record.RecordRowSourceIP, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("row %d: %w", i, err))
			outcome.Failed++
			outcome.Items = append(outcome.Items, ItemResult{Index: i, Err: err})
			continue
		}
		outcome.Succeeded++
		outcome.InsertedIDs = append(outcome.InsertedIDs, id)
		outcome.Items = append(outcome.Items, ItemResult{Index: i, ID: id})
	}

	if outcome.Succeeded == 0 {
		return nil, &AllInsertsFailedError{
			Rows:     len(records),
			BatchErr: batchErr,
			Err:      errs.ErrorOrNil(),
		}
	}

	if outcome.Failed > 0 {
		c.logger.Warn("partially persisted report", "succeeded", outcome.Succeeded, "failed", outcome.Failed)
	}

	return outcome, nil
}

// stamp converts the rows into records sharing one timestamp.
func (c *Coordinator) stamp(rows []dmarc.Row, attachmentRef *string) []Record {
	now := c.now().UnixMilli()
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{
			Row:        row,
			CreateTime: now,
			UpdateTime: now,
		}
		if attachmentRef != nil {
			records[i].AttachmentURL = *attachmentRef
		}
		if c.resolver != nil && row.RecordRowSourceIP != "" {
			domains, err := c.resolver.CachedDNSLookup(row.RecordRowSourceIP)
			if err != nil {
				c.logger.Debug("could not resolve source ip", "ip", row.RecordRowSourceIP, "error", err)
				domains = []string{}
			}
			records[i].SourceDNS = domains
		}
	}
	return records
}
