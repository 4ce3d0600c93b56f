package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// Supported mime types for intake.
const (
	MIMEPDF  = "application/pdf"
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

// DetectType resolves the effective mime type from the declared type, the
// file name, and the payload's magic bytes. The payload wins over the
// declaration when they disagree.
func DetectType(filename, declared string, data []byte) (string, error) {
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return MIMEPDF, nil
	}
	if len(data) >= 4 && bytes.Equal(data[:4], pngMagic) {
		return MIMEPNG, nil
	}
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return MIMEJPEG, nil
	}

	switch declared {
	case MIMEPDF, MIMEPNG, MIMEJPEG:
		return declared, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MIMEPDF, nil
	case ".png":
		return MIMEPNG, nil
	case ".jpg", ".jpeg":
		return MIMEJPEG, nil
	}

	return "", fmt.Errorf("unsupported document type %q for %q", declared, filename)
}
