package files

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/waffle/pantry/storage"
)

// DetectMimeType picks the content type of an upload: the part's declared
// type unless it is missing or generic, then the file extension, then a sniff
// of head (the first bytes of the content).
func DetectMimeType(declared, filename string, head []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != lifecycle.DefaultMimeType {
		return mt
	}
	for _, guess := range []string{
		storage.DetectContentType(filename, head),
		mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))),
	} {
		if mt, _, err := mime.ParseMediaType(guess); err == nil && mt != lifecycle.DefaultMimeType {
			return mt
		}
	}
	return lifecycle.DefaultMimeType
}

// InlineSafe reports whether content of this type may be served with an
// inline disposition. Types a browser would execute (HTML, SVG, scripts)
// are always downloaded as attachments.
func InlineSafe(contentType string) bool {
	switch {
	case contentType == "image/svg+xml":
		return false
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "video/"),
		strings.HasPrefix(contentType, "audio/"):
		return true
	case contentType == "application/pdf", contentType == "text/plain":
		return true
	default:
		return false
	}
}
