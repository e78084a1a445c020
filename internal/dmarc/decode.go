package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// DefaultMaxDecodedSize caps the inflated size of a compressed report.
const DefaultMaxDecodedSize int64 = 100 * 1024 * 1024

// RawAttachment is a report attachment as extracted from the email.
type RawAttachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// readAllLimited reads r but fails with ErrDecodedTooLarge once more than
// limit bytes come out of it.
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDecodedTooLarge, limit)
	}
	return b, nil
}

func readGZ(content []byte, limit int64) (string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return "", &DecompressionError{Kind: KindGZIP, Err: fmt.Errorf("could not gzip read: %w", err)}
	}
	defer gz.Close()

	xmlContent, err := readAllLimited(gz, limit)
	if err != nil {
		return "", &DecompressionError{Kind: KindGZIP, Err: fmt.Errorf("could not read: %w", err)}
	}
	return string(xmlContent), nil
}

func readZIP(content []byte, limit int64) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", &DecompressionError{Kind: KindZIP, Err: fmt.Errorf("could not open zip: %w", err)}
	}
	if len(r.File) == 0 {
		return "", ErrEmptyArchive
	}
	// only the first entry is used, reporters ship a single xml file
	f := r.File[0]
	x, err := f.Open()
	if err != nil {
		return "", &DecompressionError{Kind: KindZIP, Err: fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)}
	}
	defer x.Close()
	xmlContent, err := readAllLimited(x, limit)
	if err != nil {
		return "", &DecompressionError{Kind: KindZIP, Err: fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)}
	}
	return string(xmlContent), nil
}

// Decode turns the attachment content into xml text according to its
// container kind.
func Decode(kind ContainerKind, content []byte) (string, error) {
	return DecodeLimit(kind, content, DefaultMaxDecodedSize)
}

// DecodeLimit is Decode with a cap on the decompressed size. A limit <= 0
// uses DefaultMaxDecodedSize.
func DecodeLimit(kind ContainerKind, content []byte, limit int64) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxDecodedSize
	}
	switch kind {
	case KindGZIP:
		return readGZ(content, limit)
	case KindZIP:
		return readZIP(content, limit)
	case KindXML:
		return string(content), nil
	default:
		return "", &UnsupportedFormatError{}
	}
}

// DecodeAttachment resolves the container kind from the attachment content
// type and decodes it.
func DecodeAttachment(att RawAttachment) (string, error) {
	return DecodeAttachmentLimit(att, DefaultMaxDecodedSize)
}

// DecodeAttachmentLimit is DecodeAttachment with a cap on the decompressed
// size.
func DecodeAttachmentLimit(att RawAttachment, limit int64) (string, error) {
	ext := ExtensionForMIME(att.MIMEType)
	kind := kindForExtension(ext)
	if kind == KindUnknown {
		return "", &UnsupportedFormatError{Extension: ext}
	}
	return DecodeLimit(kind, att.Content, limit)
}
