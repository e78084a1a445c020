package dmarc

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ContainerKind is the container format a report attachment is shipped in.
type ContainerKind int

const (
	KindUnknown ContainerKind = iota
	KindGZIP
	KindZIP
	KindXML
)

func (k ContainerKind) String() string {
	switch k {
	case KindGZIP:
		return "gzip"
	case KindZIP:
		return "zip"
	case KindXML:
		return "xml"
	default:
		return "unknown"
	}
}

// ExtensionForMIME returns the first registered file extension (without the
// leading dot) for the given content type or an empty string if the type is
// not known.
func ExtensionForMIME(mimeType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "" {
		return ""
	}
	m := mimetype.Lookup(mediaType)
	if m == nil {
		return ""
	}
	return strings.TrimPrefix(m.Extension(), ".")
}

// ResolveFormat maps a declared content type to the container kind.
func ResolveFormat(mimeType string) ContainerKind {
	return kindForExtension(ExtensionForMIME(mimeType))
}

func kindForExtension(ext string) ContainerKind {
	switch ext {
	case "gz":
		return KindGZIP
	case "zip":
		return KindZIP
	case "xml":
		return KindXML
	default:
		return KindUnknown
	}
}
