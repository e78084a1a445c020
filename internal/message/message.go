package message

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/helper"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
)

// Email holds the parts of an inbound report email needed for processing.
type Email struct {
	From        string
	To          []string
	Subject     string
	Date        time.Time
	MessageID   string
	Attachments []dmarc.RawAttachment
}

// Parse decodes a RFC 5322 message and collects its attachments. Inline parts
// are only treated as attachments if they look like a supported archive.
func Parse(r io.Reader) (*Email, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	email := &Email{}
	if from, err := m.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].Address
	}
	if to, err := m.Header.AddressList("To"); err == nil {
		for _, a := range to {
			email.To = append(email.To, a.Address)
		}
	}
	email.Subject, _ = m.Header.Subject()
	email.Date, _ = m.Header.Date()
	email.MessageID, _ = m.Header.MessageID()

	for {
		p, err := m.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read inline body: %w", err)
			}
			// sometimes the report is inlined so we check the magic bytes
			sniffed := helper.ArchiveMIMEType(b)
			if sniffed == "" {
				continue
			}
			_, params, err := h.ContentDisposition()
			if err != nil {
				params = map[string]string{}
			}
			filename := params["filename"]
			if filename == "" {
				_, ctParams, _ := h.ContentType()
				filename = ctParams["name"]
			}
			contentType, _, _ := h.ContentType()
			email.Attachments = append(email.Attachments, dmarc.RawAttachment{
				Filename: filename,
				MIMEType: attachmentMIMEType(contentType, filename, b),
				Content:  b,
			})
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read attachment %s: %w", filename, err)
			}
			contentType, _, _ := h.ContentType()
			email.Attachments = append(email.Attachments, dmarc.RawAttachment{
				Filename: filename,
				MIMEType: attachmentMIMEType(contentType, filename, b),
				Content:  b,
			})
		}
	}

	return email, nil
}

// attachmentMIMEType returns the declared content type unless it is one of
// the generic types some reporters use, in that case the type is derived from
// the content or the file name.
func attachmentMIMEType(declared, filename string, content []byte) string {
	if dmarc.ResolveFormat(declared) != dmarc.KindUnknown {
		return declared
	}
	if sniffed := helper.ArchiveMIMEType(content); sniffed != "" {
		return sniffed
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz":
		return "application/gzip"
	case ".zip":
		return "application/zip"
	case ".xml":
		return "text/xml"
	}
	return declared
}
