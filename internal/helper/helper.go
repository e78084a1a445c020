package helper

import (
	"bytes"
)

type signature struct {
	magic    []byte
	mimeType string
}

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = []signature{
	{[]byte{31, 139}, "application/gzip"},     // .gz "\x1f\x8b"
	{[]byte{80, 75, 3, 4}, "application/zip"}, // .zip "\x50\x4B\x03\x04"
	{[]byte{80, 75, 5, 6}, "application/zip"}, // .zip "\x50\x4B\x05\x06" (empty archive)
	{[]byte{80, 75, 7, 8}, "application/zip"}, // .zip "\x50\x4B\x07\x08"
}

// ArchiveMIMEType returns the content type of a supported archive based on
// its leading bytes or an empty string if content is no supported archive.
func ArchiveMIMEType(content []byte) string {
	for _, sig := range magicTable {
		if bytes.HasPrefix(content, sig.magic) {
			return sig.mimeType
		}
	}
	return ""
}
