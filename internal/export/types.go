// Package export renders documents as standalone pages and converts them to
// PDF and DOCX.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

const (
	VersionLatest    = "latest"
	VersionPublished = "published"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	// Version is empty or VersionLatest for the working copy,
	// VersionPublished for the latest publication, otherwise a commit hash.
	Version string
	Format  Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// ParseFormat accepts the query string spelling of a format.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(raw); f {
	case FormatPDF, FormatDOCX, FormatHTML:
		return f, nil
	case "":
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
