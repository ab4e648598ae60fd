package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(3000)

	tests := []struct {
		path string
		want Extractor
	}{
		{"report.pdf", &PDFExtractor{}},
		{"notes.DOCX", &DocxExtractor{}},
		{"legacy.doc", &DocxExtractor{}},
		{"budget.xlsx", &XlsxExtractor{}},
		{"readme.txt", &TextExtractor{}},
	}
	for _, tt := range tests {
		e, err := r.ForPath(tt.path)
		require.NoError(t, err, tt.path)
		assert.IsType(t, tt.want, e, tt.path)
	}

	_, err := r.ForPath("image.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, r.Supported("archive.zip"))
	assert.True(t, r.Supported("a.pdf"))
}

func TestRegistryExtractEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("   \n\n  \n"), 0o600))

	r := NewRegistry(3000)
	_, err := r.Extract(path)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestRegistryPageCountDefaultsToOne(t *testing.T) {
	r := NewRegistry(3000)
	assert.Equal(t, 1, r.PageCount("missing.pdf"))
	assert.Equal(t, 1, r.PageCount("unknown.png"))
}

func TestTextExtractor(t *testing.T) {
	dir := t.TempDir()
	e := &TextExtractor{PageCharThreshold: 40}

	t.Run("paragraphs accumulate into pages", func(t *testing.T) {
		path := filepath.Join(dir, "plain.txt")
		content := "first paragraph with some words\n\nsecond paragraph here\n\nthird one"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		pages, err := e.Extract(path)
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, 2, pages[1].Number)
		assert.Contains(t, pages[0].Text, "first paragraph")
		assert.Contains(t, pages[1].Text, "third one")
	})

	t.Run("windows-1251 fallback", func(t *testing.T) {
		path := filepath.Join(dir, "cp1251.txt")
		// "Привет мир" in Windows-1251: not valid UTF-8.
		data := []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2, 0x20, 0xEC, 0xE8, 0xF0}
		require.NoError(t, os.WriteFile(path, data, 0o600))

		pages, err := e.Extract(path)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "Привет мир", pages[0].Text)
	})

	t.Run("unreadable path", func(t *testing.T) {
		_, err := e.Extract(filepath.Join(dir, "nope.txt"))
		assert.ErrorIs(t, err, ErrUnreadable)
	})
}

func TestXlsxExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Item", "Cost"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Venue", 500}))
	// A3 left fully blank: must be skipped.
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"Catering", 1200}))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	_, err = f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Notes", "A1", "due March 1"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	e := &XlsxExtractor{}
	pages, err := e.Extract(path)
	require.NoError(t, err)
	require.Len(t, pages, 2) // Empty worksheet yields no page.

	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Item | Cost")
	assert.Contains(t, pages[0].Text, "Venue | 500")
	assert.Contains(t, pages[0].Text, "Catering | 1200")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "due March 1")

	n, err := e.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPDFExtractorUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o600))

	e := &PDFExtractor{}
	_, err := e.Extract(path)
	assert.ErrorIs(t, err, ErrUnreadable)

	n, err := e.PageCount(path)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestPageBuilder(t *testing.T) {
	b := newPageBuilder(10)
	b.add("")
	b.add("   ")
	b.add("aaaa")
	b.add("bbbb") // 4 + 2 + 4 = 10 -> closes page 1
	b.add("tail")
	pages := b.result()

	require.Len(t, pages, 2)
	assert.Equal(t, "aaaa\n\nbbbb", pages[0].Text)
	assert.Equal(t, "tail", pages[1].Text)
	assert.Equal(t, []int{1, 2}, []int{pages[0].Number, pages[1].Number})
}

func TestJoinRow(t *testing.T) {
	assert.Equal(t, "a | b | c", joinRow([]string{" a", "b ", "c"}))
	assert.Equal(t, "a |  | c", joinRow([]string{"a", "", "c"}))
	assert.Equal(t, "", joinRow([]string{"", "  ", ""}))
	assert.Equal(t, "", joinRow(nil))
}

func TestDecode(t *testing.T) {
	s, err := decode([]byte("plain utf-8 ✓"))
	require.NoError(t, err)
	assert.Equal(t, "plain utf-8 ✓", s)

	// Latin-1 bytes that are invalid UTF-8 and map to the undefined 0x98
	// slot in Windows-1251, forcing the final fallback.
	s, err = decode([]byte{0x98, 0xE9})
	require.NoError(t, err)
	assert.False(t, strings.ContainsRune(s, '�'))
}
