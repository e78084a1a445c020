package dmarc

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Normalize validates the aggregate report tree and flattens every record
// element into a Row, in document order.
// Only missing top level sections are an error, missing or malformed record
// fields fall back to their zero values.
func Normalize(tree *Node) ([]Row, error) {
	feedback, ok := tree.Child("feedback")
	if !ok {
		return nil, &InvalidReportStructureError{Missing: "feedback"}
	}
	metadata, ok := feedback.Child("report_metadata")
	if !ok {
		return nil, &InvalidReportStructureError{Missing: "report_metadata"}
	}
	policy, ok := feedback.Child("policy_published")
	if !ok {
		return nil, &InvalidReportStructureError{Missing: "policy_published"}
	}
	records := feedback.All("record")
	if len(records) == 0 {
		return nil, &InvalidReportStructureError{Missing: "record"}
	}

	base := reportRow(metadata, policy)

	rows := make([]Row, len(records))
	for i, record := range records {
		row := base
		row.RecordRowSourceIP = text(record, "row", "source_ip")
		row.RecordRowCount = parseInt(text(record, "row", "count"))
		row.RecordRowPolicyEvaluatedDKIM = ParseResult(text(record, "row", "policy_evaluated", "dkim"))
		row.RecordRowPolicyEvaluatedSPF = ParseResult(text(record, "row", "policy_evaluated", "spf"))
		row.RecordRowPolicyEvaluatedDisposition = ParseDisposition(text(record, "row", "policy_evaluated", "disposition"))
		// a receiver may list several reasons, the first one is stored
		row.RecordRowPolicyEvaluatedReasonType = ParsePolicyOverride(text(record, "row", "policy_evaluated", "reason", "type"))
		row.RecordIdentifiersEnvelopeTo = text(record, "identifiers", "envelope_to")
		row.RecordIdentifiersHeaderFrom = text(record, "identifiers", "header_from")
		rows[i] = row
	}

	return rows, nil
}

// reportRow fills the report and policy fields shared by all rows.
func reportRow(metadata, policy *Node) Row {
	return Row{
		ReportMetadataReportID:       normalizeReportID(text(metadata, "report_id")),
		ReportMetadataOrgName:        text(metadata, "org_name"),
		ReportMetadataDateRangeBegin: parseInt(text(metadata, "date_range", "begin")),
		ReportMetadataDateRangeEnd:   parseInt(text(metadata, "date_range", "end")),
		ReportMetadataError:          errorsJSON(metadata.All("error")),

		PolicyPublishedDomain: text(policy, "domain"),
		PolicyPublishedADKIM:  ParseAlignment(text(policy, "adkim")),
		PolicyPublishedASPF:   ParseAlignment(text(policy, "aspf")),
		PolicyPublishedP:      ParseDisposition(text(policy, "p")),
		PolicyPublishedSP:     ParseDisposition(text(policy, "sp")),
		PolicyPublishedPct:    parseInt(text(policy, "pct")),
	}
}

func text(n *Node, path ...string) string {
	s, _ := n.TextAt(path...)
	return s
}

// normalizeReportID replaces the first hyphen as the storage backend does not
// allow it in keys.
func normalizeReportID(id string) string {
	return strings.Replace(id, "-", "_", 1)
}

func errorsJSON(nodes []*Node) string {
	if len(nodes) == 0 {
		return ""
	}
	errs := make([]string, len(nodes))
	for i, n := range nodes {
		errs[i] = n.Text
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return ""
	}
	return string(b)
}

// parseInt parses the leading base 10 integer of s and returns 0 if there is
// none. Trailing garbage like a decimal part is ignored.
func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
