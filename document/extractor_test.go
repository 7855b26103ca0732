package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/gradscout/framework"
)

var fakePDF = []byte("%PDF-1.4\nfake body")

type stubSource struct {
	pages      []string
	unreadable []int
	err        error
}

func (s stubSource) PageTexts([]byte) ([]string, []int, error) {
	return s.pages, s.unreadable, s.err
}

type stubRecognizer struct {
	mu    sync.Mutex
	pages map[int]string
	fail  map[int]error
	seen  []int
	paths []string
}

func (s *stubRecognizer) RecognizePage(ctx context.Context, pdfPath string, page int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, page)
	s.paths = append(s.paths, pdfPath)
	if err := s.fail[page]; err != nil {
		return "", err
	}
	return s.pages[page], nil
}

func TestExtractUsesEmbeddedText(t *testing.T) {
	long := strings.Repeat("Strong candidate with excellent research skills. ", 3)
	rec := &stubRecognizer{}
	ex := NewExtractor(stubSource{pages: []string{long, "  "}}, rec, Config{}, nil)

	got, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, MethodText, got.Method)
	assert.Equal(t, strings.TrimSpace(long), got.Text)
	assert.Equal(t, 2, got.Pages)
	assert.Empty(t, rec.seen)
}

func TestExtractFallsBackToOCRForImageOnlyDocument(t *testing.T) {
	rec := &stubRecognizer{pages: map[int]string{1: "Dear committee,", 2: "I recommend Priya."}}
	ex := NewExtractor(stubSource{pages: []string{"", ""}}, rec, Config{}, nil)

	got, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, MethodOCR, got.Method)
	assert.Equal(t, "Dear committee,\n\nI recommend Priya.", got.Text)
	assert.Equal(t, []int{1, 2}, rec.seen)
	require.NotEmpty(t, rec.paths)
	_, statErr := os.Stat(rec.paths[0])
	assert.True(t, os.IsNotExist(statErr), "temporary copy is removed")
}

func TestExtractOCRWithNoRecognizableTextFails(t *testing.T) {
	rec := &stubRecognizer{pages: map[int]string{1: "  "}}
	ex := NewExtractor(stubSource{pages: []string{""}}, rec, Config{}, nil)

	_, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	var exErr *framework.ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.Contains(t, exErr.Reason, "no recognizable text")
}

func TestExtractSkipsUnreadablePage(t *testing.T) {
	rec := &stubRecognizer{
		pages: map[int]string{1: "page one", 3: "page three"},
		fail:  map[int]error{2: errors.New("tesseract crashed")},
	}
	ex := NewExtractor(stubSource{pages: []string{"", "", ""}}, rec, Config{}, nil)

	got, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, "page one\n\npage three", got.Text)
	assert.Equal(t, []int{2}, got.SkippedPages)
}

func TestExtractNotesUnreadableTextLayerPages(t *testing.T) {
	long := strings.Repeat("Strong candidate with excellent research skills. ", 3)
	rec := &stubRecognizer{}
	ex := NewExtractor(stubSource{pages: []string{long, "", long}, unreadable: []int{2}}, rec, Config{}, nil)

	got, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, MethodText, got.Method)
	assert.Equal(t, 3, got.Pages)
	assert.Equal(t, []int{2}, got.SkippedPages)
	assert.Empty(t, rec.seen)

	ex = NewExtractor(stubSource{pages: []string{"Short note.", ""}, unreadable: []int{2}}, nil, Config{}, nil)
	got, err = ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, "Short note.", got.Text)
	assert.Equal(t, []int{2}, got.SkippedPages)
}

func TestExtractAllPagesFail(t *testing.T) {
	boom := errors.New("boom")
	rec := &stubRecognizer{fail: map[int]error{1: boom, 2: boom}}
	ex := NewExtractor(stubSource{pages: []string{"", ""}}, rec, Config{}, nil)

	_, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	var exErr *framework.ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, []int{1, 2}, exErr.SkippedPages)
	assert.True(t, errors.Is(err, boom))
}

func TestExtractShortTextKeptWhenOCRUnavailable(t *testing.T) {
	ex := NewExtractor(stubSource{pages: []string{"Short note."}}, nil, Config{}, nil)
	got, err := ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.NoError(t, err)
	assert.Equal(t, "Short note.", got.Text)

	ex = NewExtractor(stubSource{pages: []string{""}}, nil, Config{}, nil)
	_, err = ex.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	var exErr *framework.ExtractionError
	assert.True(t, errors.As(err, &exErr))
}

func TestExtractRejectsUnopenableDocuments(t *testing.T) {
	ex := NewExtractor(stubSource{}, nil, Config{MaxBytes: 16}, nil)
	var exErr *framework.ExtractionError

	_, err := ex.Extract(context.Background(), strings.NewReader("plain text, not a pdf"))
	require.True(t, errors.As(err, &exErr))

	_, err = ex.Extract(context.Background(), strings.NewReader("%PDF-"+strings.Repeat("x", 64)))
	require.True(t, errors.As(err, &exErr))
	assert.Contains(t, exErr.Reason, "exceeds")

	broken := NewExtractor(stubSource{err: errors.New("bad xref")}, nil, Config{}, nil)
	_, err = broken.Extract(context.Background(), strings.NewReader(string(fakePDF)))
	require.True(t, errors.As(err, &exErr))
	assert.Contains(t, exErr.Reason, "cannot open")

	_, err = ex.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.True(t, errors.As(err, &exErr))
}

func TestPDFTextSourceRejectsGarbage(t *testing.T) {
	_, _, err := PDFTextSource{}.PageTexts([]byte("%PDF-1.4 not really"))
	assert.Error(t, err)
}
