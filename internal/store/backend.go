package store

import "context"

// FileUploader stores the raw attachment.
type FileUploader interface {
	UploadFile(ctx context.Context, name string, content []byte) (string, error)
}

// Backend combines the database and the optional object storage into one
// Storage.
type Backend struct {
	db    *Postgres
	files FileUploader
}

var _ Storage = (*Backend)(nil)

// NewBackend creates a Backend. files may be nil if attachments should not be
// uploaded.
func NewBackend(db *Postgres, files FileUploader) *Backend {
	return &Backend{
		db:    db,
		files: files,
	}
}

func (b *Backend) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	if b.files == nil {
		return "", ErrNoFileStore
	}
	return b.files.UploadFile(ctx, name, content)
}

func (b *Backend) InsertOne(ctx context.Context, record Record) (string, error) {
	return b.db.InsertOne(ctx, record)
}

func (b *Backend) InsertBatch(ctx context.Context, records []Record) ([]string, error) {
	return b.db.InsertBatch(ctx, records)
}

func (b *Backend) Query(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	return b.db.Query(ctx, filter, limit)
}
