package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// TextExtractor extracts plain-text files. Bytes are decoded by trying
// UTF-8, then Windows-1251, then Latin-1; paragraphs (blank-line delimited)
// accumulate into synthetic pages.
type TextExtractor struct {
	PageCharThreshold int
}

// Extract returns synthetic pages built from the file's paragraphs.
func (e *TextExtractor) Extract(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading file: %v", ErrUnreadable, err)
	}

	text, err := decode(data)
	if err != nil {
		return nil, err
	}

	builder := newPageBuilder(e.PageCharThreshold)
	for _, para := range blankLine.Split(text, -1) {
		builder.add(para)
	}
	return builder.result(), nil
}

// PageCount estimates pages from total text volume.
func (e *TextExtractor) PageCount(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 1, fmt.Errorf("%w: stat file: %v", ErrUnreadable, err)
	}
	n := int(info.Size())/e.PageCharThreshold + 1
	return n, nil
}

// decode tries encodings in priority order until one cleanly decodes the
// input. Latin-1 accepts any byte sequence, so it terminates the list.
func decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	if s, err := charmap.Windows1251.NewDecoder().Bytes(data); err == nil && !strings.ContainsRune(string(s), utf8.RuneError) {
		return string(s), nil
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: undecodable text", ErrUnreadable)
	}
	return string(s), nil
}
