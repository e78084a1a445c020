package dmarc

// The integer codes are stored in the database. Unknown or missing keywords
// map to the first member (code 0) of each table.

// AlignmentType is the DKIM/SPF identifier alignment mode (adkim, aspf).
type AlignmentType int

const (
	AlignmentRelaxed AlignmentType = iota
	AlignmentStrict
)

// DMARCResultType is the DMARC evaluated DKIM/SPF result.
type DMARCResultType int

const (
	ResultFail DMARCResultType = iota
	ResultPass
)

// DispositionType is the published or applied message disposition.
type DispositionType int

const (
	DispositionNone DispositionType = iota
	DispositionQuarantine
	DispositionReject
)

// PolicyOverrideType is the reason a receiver deviated from the policy.
type PolicyOverrideType int

const (
	OverrideOther PolicyOverrideType = iota
	OverrideForwarded
	OverrideSampledOut
	OverrideTrustedForwarder
	OverrideMailingList
	OverrideLocalPolicy
)

// wire keywords as used in the RFC 7489 report schema
var (
	alignmentKeywords = map[string]AlignmentType{
		"r": AlignmentRelaxed,
		"s": AlignmentStrict,
	}
	resultKeywords = map[string]DMARCResultType{
		"fail": ResultFail,
		"pass": ResultPass,
	}
	dispositionKeywords = map[string]DispositionType{
		"none":       DispositionNone,
		"quarantine": DispositionQuarantine,
		"reject":     DispositionReject,
	}
	overrideKeywords = map[string]PolicyOverrideType{
		"other":             OverrideOther,
		"forwarded":         OverrideForwarded,
		"sampled_out":       OverrideSampledOut,
		"trusted_forwarder": OverrideTrustedForwarder,
		"mailing_list":      OverrideMailingList,
		"local_policy":      OverrideLocalPolicy,
	}
)

func ParseAlignment(s string) AlignmentType {
	return alignmentKeywords[s]
}

func ParseResult(s string) DMARCResultType {
	return resultKeywords[s]
}

func ParseDisposition(s string) DispositionType {
	return dispositionKeywords[s]
}

func ParsePolicyOverride(s string) PolicyOverrideType {
	return overrideKeywords[s]
}
