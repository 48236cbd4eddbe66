package cleaner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPPTX Format = "pptx"
)

// Cleaner detects and removes the export-tool branding overlay from a
// document given as raw bytes. Implementations are stateless and safe for
// concurrent use; every call works on its own in-memory tree.
type Cleaner interface {
	// Detect scans the document and reports candidate elements without
	// modifying anything.
	Detect(data []byte) (*Report, error)

	// Clean removes every matching element and returns the re-encoded
	// document. When nothing matches, Output is the input bytes unchanged.
	Clean(data []byte) (*Result, error)
}

// Result is the outcome of a Clean pass.
type Result struct {
	Output []byte

	Found   bool
	Removed int

	// Per-kind breakdown. For PDF, ImagesRemoved counts deleted drawing
	// operations and LinksRemoved the detached link annotations. For PPTX,
	// ImagesRemoved counts deleted picture shapes and LinksRemoved is zero
	// (the hyperlink lives on the shape itself).
	ImagesRemoved     int
	LinksRemoved      int
	ContainersCleaned int

	// Skipped records elements that could not be evaluated (missing
	// attribute, malformed rectangle, unparsable URL). Best-effort: a bad
	// element never aborts the document.
	Skipped []string
}

// Candidate is a single element the locator looked at closely: anything in
// the corner region, whether or not the link test confirmed it.
type Candidate struct {
	Container string  `json:"container"`
	Element   string  `json:"element"`
	URL       string  `json:"url,omitempty"`
	LeftPct   float64 `json:"left_pct"`
	TopPct    float64 `json:"top_pct"`
	Matched   bool    `json:"matched"`
}

// Report is the outcome of a Detect pass.
type Report struct {
	Format     Format      `json:"format"`
	Found      bool        `json:"watermark_found"`
	Candidates []Candidate `json:"candidates"`
	Skipped    []string    `json:"skipped,omitempty"`
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".pdf":  true,
	".pptx": true,
}

// ForFormat returns the cleaner for a declared format tag.
func ForFormat(format string) (Cleaner, error) {
	switch Format(strings.ToLower(strings.TrimSpace(format))) {
	case FormatPDF:
		return NewPDFCleaner(DefaultRule()), nil
	case FormatPPTX:
		return NewPPTXCleaner(DefaultRule()), nil
	default:
		return nil, &Error{
			Kind: KindUnsupportedFormat,
			Err:  fmt.Errorf("unsupported format: %q", format),
		}
	}
}

// FormatForFile derives the format tag from a filename extension.
func FormatForFile(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".pptx":
		return FormatPPTX, nil
	default:
		return "", &Error{
			Kind: KindUnsupportedFormat,
			Err:  fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename)),
		}
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatPPTX:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}
