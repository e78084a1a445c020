package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

const tableName = "dmarc_reports"

// DB is the subset of pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var recordColumns = []string{
	"id",
	"report_metadata_report_id",
	"report_metadata_org_name",
	"report_metadata_date_range_begin",
	"report_metadata_date_range_end",
	"report_metadata_error",
	"policy_published_domain",
	"policy_published_adkim",
	"policy_published_aspf",
	"policy_published_p",
	"policy_published_sp",
	"policy_published_pct",
	"record_row_source_ip",
	"record_row_count",
	"record_row_policy_evaluated_dkim",
	"record_row_policy_evaluated_spf",
	"record_row_policy_evaluated_disposition",
	"record_row_policy_evaluated_reason_type",
	"record_identifiers_envelope_to",
	"record_identifiers_header_from",
	"create_time",
	"update_time",
	"attachment_url",
	"source_dns",
}

var insertSQL = func() string {
	placeholders := make([]string, len(recordColumns))
	for i := range recordColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		tableName, strings.Join(recordColumns, ", "), strings.Join(placeholders, ", "))
}()

// Postgres stores report records in a PostgreSQL table.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the table and indexes if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}
	return nil
}

func recordArgs(id string, r Record) []any {
	return []any{
		id,
		r.ReportMetadataReportID,
		r.ReportMetadataOrgName,
		r.ReportMetadataDateRangeBegin,
		r.ReportMetadataDateRangeEnd,
		r.ReportMetadataError,
		r.PolicyPublishedDomain,
		int16(r.PolicyPublishedADKIM),
		int16(r.PolicyPublishedASPF),
		int16(r.PolicyPublishedP),
		int16(r.PolicyPublishedSP),
		r.PolicyPublishedPct,
		r.RecordRowSourceIP,
		r.RecordRowCount,
		int16(r.RecordRowPolicyEvaluatedDKIM),
		int16(r.RecordRowPolicyEvaluatedSPF),
		int16(r.RecordRowPolicyEvaluatedDisposition),
		int16(r.RecordRowPolicyEvaluatedReasonType),
		r.RecordIdentifiersEnvelopeTo,
		r.RecordIdentifiersHeaderFrom,
		r.CreateTime,
		r.UpdateTime,
		r.AttachmentURL,
		r.SourceDNS,
	}
}

// InsertOne inserts a single record and returns its id.
func (p *Postgres) InsertOne(ctx context.Context, record Record) (string, error) {
	var id string
	if err := p.db.QueryRow(ctx, insertSQL, recordArgs(uuid.NewString(), record)...).Scan(&id); err != nil {
		return "", fmt.Errorf("could not insert record: %w", err)
	}
	return id, nil
}

// InsertBatch inserts all records in one transaction. Either all records are
// stored or none.
func (p *Postgres) InsertBatch(ctx context.Context, records []Record) (ids []string, err error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("could not rollback: %w", rbErr))
			}
		}
	}()

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertSQL, recordArgs(uuid.NewString(), r)...)
	}

	br := tx.SendBatch(ctx, batch)
	ids = make([]string, 0, len(records))
	for i := range records {
		var id string
		if err := br.QueryRow().Scan(&id); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("could not insert record %d of batch: %w", i, err)
		}
		ids = append(ids, id)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("could not close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("could not commit batch: %w", err)
	}
	return ids, nil
}
