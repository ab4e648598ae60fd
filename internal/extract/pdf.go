package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts one page of text per physical PDF page.
type PDFExtractor struct{}

// Extract returns the non-empty pages of the PDF in page order.
func (e *PDFExtractor) Extract(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single malformed page does not fail the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// PageCount returns the physical page count.
func (e *PDFExtractor) PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 1, fmt.Errorf("%w: opening pdf: %v", ErrUnreadable, err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
