package dmarc

import (
	"errors"
	"fmt"
)

// ErrEmptyArchive is returned when a zip attachment contains no entries.
var ErrEmptyArchive = errors.New("no entries in zip archive")

// ErrDecodedTooLarge is wrapped in a DecompressionError when an archive
// inflates beyond the configured limit.
var ErrDecodedTooLarge = errors.New("decompressed content too large")

// UnsupportedFormatError is returned when the attachment content type does
// not map to one of the supported containers.
type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Extension == "" {
		return "unknown extension"
	}
	return fmt.Sprintf("unknown extension: %s", e.Extension)
}

// DecompressionError wraps failures while inflating or unpacking an
// attachment.
type DecompressionError struct {
	Kind ContainerKind
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("could not decompress %s content: %v", e.Kind, e.Err)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}

// InvalidReportStructureError is returned when one of the mandatory top level
// sections of an aggregate report is missing.
type InvalidReportStructureError struct {
	Missing string
}

func (e *InvalidReportStructureError) Error() string {
	return fmt.Sprintf("invalid xml: missing %s", e.Missing)
}
