// Package extract converts uploaded files into ordered, page-attributed text.
//
// Each supported format has its own Extractor implementation. Formats without
// physical pages (DOCX, XLSX, plain text) produce synthetic pages: a new page
// starts once the accumulated text reaches a character threshold, or per
// worksheet for spreadsheets.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file extensions with no registered extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrNoContent is returned when a file yields zero non-empty pages.
	ErrNoContent = errors.New("no text content extracted")

	// ErrUnreadable is returned when the file cannot be opened or parsed.
	ErrUnreadable = errors.New("file unreadable")
)

// Page is one unit of extracted text. Number is 1-based and either a
// physical page (PDF) or a synthetic one (everything else).
type Page struct {
	Number int
	Text   string
}

// Extractor extracts ordered pages of text from a file on disk.
type Extractor interface {
	// Extract returns the non-empty pages of the file in document order.
	Extract(path string) ([]Page, error)

	// PageCount returns a best-effort page count. Implementations return
	// 1 and an error when the count cannot be determined; callers treat
	// the error as non-fatal.
	PageCount(path string) (int, error)
}

// Registry dispatches to format extractors by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds the default registry covering PDF, DOCX, XLSX and
// plain text. pageCharThreshold controls synthetic page size for formats
// without physical pages.
func NewRegistry(pageCharThreshold int) *Registry {
	docx := &DocxExtractor{PageCharThreshold: pageCharThreshold}
	xlsx := &XlsxExtractor{}
	text := &TextExtractor{PageCharThreshold: pageCharThreshold}
	return &Registry{byExt: map[string]Extractor{
		".pdf":  &PDFExtractor{},
		".docx": docx,
		".doc":  docx,
		".xlsx": xlsx,
		".xls":  xlsx,
		".txt":  text,
	}}
}

// ForPath returns the extractor for the file's extension.
func (r *Registry) ForPath(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return e, nil
}

// Supported reports whether the extension is handled.
func (r *Registry) Supported(path string) bool {
	_, err := r.ForPath(path)
	return err == nil
}

// Extract dispatches by extension and enforces the non-empty contract.
func (r *Registry) Extract(path string) ([]Page, error) {
	e, err := r.ForPath(path)
	if err != nil {
		return nil, err
	}
	pages, err := e.Extract(path)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, filepath.Base(path))
	}
	return pages, nil
}

// PageCount dispatches by extension; unknown formats and failures count as 1.
func (r *Registry) PageCount(path string) int {
	e, err := r.ForPath(path)
	if err != nil {
		return 1
	}
	n, err := e.PageCount(path)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// pageBuilder accumulates text blocks into synthetic pages. A page closes
// once it holds at least threshold characters.
type pageBuilder struct {
	threshold int
	pages     []Page
	buf       strings.Builder
}

func newPageBuilder(threshold int) *pageBuilder {
	return &pageBuilder{threshold: threshold}
}

func (b *pageBuilder) add(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if b.buf.Len() > 0 {
		b.buf.WriteString("\n\n")
	}
	b.buf.WriteString(block)
	if b.buf.Len() >= b.threshold {
		b.flush()
	}
}

func (b *pageBuilder) flush() {
	text := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	if text == "" {
		return
	}
	b.pages = append(b.pages, Page{Number: len(b.pages) + 1, Text: text})
}

func (b *pageBuilder) result() []Page {
	b.flush()
	return b.pages
}

// joinRow renders table/spreadsheet cells as a single pipe-delimited line.
// Returns "" for fully blank rows.
func joinRow(cells []string) string {
	blank := true
	trimmed := make([]string, len(cells))
	for i, c := range cells {
		trimmed[i] = strings.TrimSpace(c)
		if trimmed[i] != "" {
			blank = false
		}
	}
	if blank {
		return ""
	}
	return strings.Join(trimmed, " | ")
}
