package dmarc

// Row is one flattened record of an aggregate report. Report and policy
// fields are repeated on every row.
type Row struct {
	ReportMetadataReportID       string `json:"reportMetadataReportId" db:"report_metadata_report_id"`
	ReportMetadataOrgName        string `json:"reportMetadataOrgName" db:"report_metadata_org_name"`
	ReportMetadataDateRangeBegin int64  `json:"reportMetadataDateRangeBegin" db:"report_metadata_date_range_begin"`
	ReportMetadataDateRangeEnd   int64  `json:"reportMetadataDateRangeEnd" db:"report_metadata_date_range_end"`
	ReportMetadataError          string `json:"reportMetadataError" db:"report_metadata_error"`

	PolicyPublishedDomain string          `json:"policyPublishedDomain" db:"policy_published_domain"`
	PolicyPublishedADKIM  AlignmentType   `json:"policyPublishedADKIM" db:"policy_published_adkim"`
	PolicyPublishedASPF   AlignmentType   `json:"policyPublishedASPF" db:"policy_published_aspf"`
	PolicyPublishedP      DispositionType `json:"policyPublishedP" db:"policy_published_p"`
	PolicyPublishedSP     DispositionType `json:"policyPublishedSP" db:"policy_published_sp"`
	PolicyPublishedPct    int64           `json:"policyPublishedPct" db:"policy_published_pct"`

	RecordRowSourceIP                   string             `json:"recordRowSourceIP" db:"record_row_source_ip"`
	RecordRowCount                      int64              `json:"recordRowCount" db:"record_row_count"`
	RecordRowPolicyEvaluatedDKIM        DMARCResultType    `json:"recordRowPolicyEvaluatedDKIM" db:"record_row_policy_evaluated_dkim"`
	RecordRowPolicyEvaluatedSPF         DMARCResultType    `json:"recordRowPolicyEvaluatedSPF" db:"record_row_policy_evaluated_spf"`
	RecordRowPolicyEvaluatedDisposition DispositionType    `json:"recordRowPolicyEvaluatedDisposition" db:"record_row_policy_evaluated_disposition"`
	RecordRowPolicyEvaluatedReasonType  PolicyOverrideType `json:"recordRowPolicyEvaluatedReasonType" db:"record_row_policy_evaluated_reason_type"`
	RecordIdentifiersEnvelopeTo         string             `json:"recordIdentifiersEnvelopeTo" db:"record_identifiers_envelope_to"`
	RecordIdentifiersHeaderFrom         string             `json:"recordIdentifiersHeaderFrom" db:"record_identifiers_header_from"`
}
