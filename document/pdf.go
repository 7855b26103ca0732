package document

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFTextSource reads the embedded text layer of a PDF.
type PDFTextSource struct{}

// PageTexts returns the plain text of every page in order. A page whose
// content stream cannot be decoded yields an empty string and its 1-based
// index is reported in unreadable.
func (PDFTextSource) PageTexts(data []byte) (pages []string, unreadable []int, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, unreadable, err = nil, nil, fmt.Errorf("open pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		text, ok := pageText(reader, i)
		if !ok {
			unreadable = append(unreadable, i)
		}
		pages = append(pages, text)
	}
	return pages, unreadable, nil
}

func pageText(reader *pdf.Reader, index int) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	page := reader.Page(index)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return text, true
}
