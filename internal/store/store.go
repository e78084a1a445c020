package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/firefart/dmarcingest/internal/dmarc"
)

// ErrNoFileStore is returned by UploadFile when no object storage is
// configured.
var ErrNoFileStore = errors.New("no file storage configured")

// Record is a report row as it is written to the database.
type Record struct {
	ID string `json:"_id,omitempty" db:"id"`
	dmarc.Row
	CreateTime    int64    `json:"createTime" db:"create_time"`
	UpdateTime    int64    `json:"updateTime" db:"update_time"`
	AttachmentURL string   `json:"attachmentUrl,omitempty" db:"attachment_url"`
	SourceDNS     []string `json:"sourceDns,omitempty" db:"source_dns"`
}

// Storage is the remote store report rows and the original attachments are
// persisted to. Implementations are used sequentially.
type Storage interface {
	UploadFile(ctx context.Context, name string, content []byte) (string, error)
	InsertOne(ctx context.Context, record Record) (string, error)
	InsertBatch(ctx context.Context, records []Record) ([]string, error)
}

// AllInsertsFailedError is returned when neither the batch insert nor any of
// the individual inserts succeeded.
type AllInsertsFailedError struct {
	Rows     int
	BatchErr error
	Err      error
}

func (e *AllInsertsFailedError) Error() string {
	return fmt.Sprintf("all %d inserts failed: batch: %v; individual: %v", e.Rows, e.BatchErr, e.Err)
}

func (e *AllInsertsFailedError) Unwrap() []error {
	var errs []error
	if e.BatchErr != nil {
		errs = append(errs, e.BatchErr)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
