package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter restricts the records returned by Query. Empty fields match
// everything.
type Filter struct {
	Domain   string
	ReportID string
	OrgName  string
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("policy_published_domain", f.Domain)
	add("report_metadata_report_id", f.ReportID)
	add("report_metadata_org_name", f.OrgName)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Query returns the newest records matching the filter.
func (p *Postgres) Query(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	where, args := filter.where()
	args = append(args, clampLimit(limit))
	columns := make([]string, len(recordColumns))
	copy(columns, recordColumns)
	columns[0] = "id::text"
	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY create_time DESC LIMIT $%d",
		strings.Join(columns, ", "), tableName, where, len(args))

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(scanDest(&r)...); err != nil {
			return nil, fmt.Errorf("could not scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read records: %w", err)
	}
	return records, nil
}

func scanDest(r *Record) []any {
	return []any{
		&r.ID,
		&r.ReportMetadataReportID,
		&r.ReportMetadataOrgName,
		&r.ReportMetadataDateRangeBegin,
		&r.ReportMetadataDateRangeEnd,
		&r.ReportMetadataError,
		&r.PolicyPublishedDomain,
		&r.PolicyPublishedADKIM,
		&r.PolicyPublishedASPF,
		&r.PolicyPublishedP,
		&r.PolicyPublishedSP,
		&r.PolicyPublishedPct,
		&r.RecordRowSourceIP,
		&r.RecordRowCount,
		&r.RecordRowPolicyEvaluatedDKIM,
		&r.RecordRowPolicyEvaluatedSPF,
		&r.RecordRowPolicyEvaluatedDisposition,
		&r.RecordRowPolicyEvaluatedReasonType,
		&r.RecordIdentifiersEnvelopeTo,
		&r.RecordIdentifiersHeaderFrom,
		&r.CreateTime,
		&r.UpdateTime,
		&r.AttachmentURL,
		&r.SourceDNS,
	}
}
