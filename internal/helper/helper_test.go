package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveMIMEType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/gzip", ArchiveMIMEType([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, "application/zip", ArchiveMIMEType([]byte("PK\x03\x04rest")))
	assert.Equal(t, "application/zip", ArchiveMIMEType([]byte("PK\x05\x06")))
	assert.Empty(t, ArchiveMIMEType([]byte("<?xml version")))
	assert.Empty(t, ArchiveMIMEType([]byte{0x1f}))
	assert.Empty(t, ArchiveMIMEType(nil))
}
