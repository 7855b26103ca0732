// Package document turns an uploaded PDF (typically a letter of
// recommendation) into plain text. The embedded text layer is tried first;
// scanned documents fall back to page-by-page OCR.
package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/framework"
)

const (
	defaultMinTextLength = 50
	defaultMaxBytes      = 20 << 20
)

// Method records which path produced the text.
type Method string

const (
	MethodText Method = "text"
	MethodOCR  Method = "ocr"
)

// TextSource yields the embedded text of each page, plus the 1-based
// indexes of pages whose text layer could not be decoded.
type TextSource interface {
	PageTexts(data []byte) (pages []string, unreadable []int, err error)
}

// PageRecognizer performs image-based recognition of one 1-based page.
type PageRecognizer interface {
	RecognizePage(ctx context.Context, pdfPath string, page int) (string, error)
}

// Extraction is the outcome of a successful extract call.
type Extraction struct {
	Text         string `json:"text"`
	Method       Method `json:"method"`
	Pages        int    `json:"pages"`
	SkippedPages []int  `json:"skipped_pages,omitempty"`
}

// Config bounds extraction.
type Config struct {
	MinTextLength int
	MaxBytes      int64
}

// Extractor is the DocumentExtractor: direct text first, OCR fallback.
type Extractor struct {
	source     TextSource
	recognizer PageRecognizer
	cfg        Config
	logger     *zap.Logger
}

// NewExtractor builds an extractor. A nil recognizer disables the OCR
// fallback.
func NewExtractor(source TextSource, recognizer PageRecognizer, cfg Config, logger *zap.Logger) *Extractor {
	if source == nil {
		source = PDFTextSource{}
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = defaultMinTextLength
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, recognizer: recognizer, cfg: cfg, logger: logger}
}

// ExtractFile opens path and extracts it.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &framework.ExtractionError{Reason: "cannot open document", Err: err}
	}
	defer f.Close()
	return e.Extract(ctx, f)
}

// Extract reads a PDF byte stream and returns its text, or an
// *framework.ExtractionError when neither method yields usable text.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (*Extraction, error) {
	data, err := io.ReadAll(io.LimitReader(r, e.cfg.MaxBytes+1))
	if err != nil {
		return nil, &framework.ExtractionError{Reason: "cannot read document", Err: err}
	}
	if int64(len(data)) > e.cfg.MaxBytes {
		return nil, &framework.ExtractionError{Reason: fmt.Sprintf("document exceeds %d bytes", e.cfg.MaxBytes)}
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, &framework.ExtractionError{Reason: "cannot open document: not a PDF"}
	}

	pages, unreadable, err := e.source.PageTexts(data)
	if err != nil {
		return nil, &framework.ExtractionError{Reason: "cannot open document", Err: err}
	}
	if len(unreadable) > 0 {
		e.logger.Warn("unreadable text layer; skipping pages", zap.Ints("pages", unreadable))
	}
	direct := joinPages(pages)
	if utf8.RuneCountInString(direct) >= e.cfg.MinTextLength {
		return &Extraction{Text: direct, Method: MethodText, Pages: len(pages), SkippedPages: unreadable}, nil
	}
	e.logger.Debug("embedded text below threshold; trying ocr",
		zap.Int("pages", len(pages)),
		zap.Int("runes", utf8.RuneCountInString(direct)),
	)

	ocr, ocrErr := e.recognize(ctx, data, len(pages))
	if ocrErr == nil {
		return ocr, nil
	}
	if direct != "" {
		e.logger.Warn("ocr failed; keeping short embedded text", zap.Error(ocrErr))
		return &Extraction{Text: direct, Method: MethodText, Pages: len(pages), SkippedPages: unreadable}, nil
	}
	return nil, ocrErr
}

func (e *Extractor) recognize(ctx context.Context, data []byte, pageCount int) (*Extraction, error) {
	if e.recognizer == nil {
		return nil, &framework.ExtractionError{Reason: "no usable text and ocr is disabled"}
	}
	if pageCount == 0 {
		return nil, &framework.ExtractionError{Reason: "document has no pages"}
	}
	dir, err := os.MkdirTemp("", "gradscout-doc-")
	if err != nil {
		return nil, &framework.ExtractionError{Reason: "ocr workspace", Err: err}
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, &framework.ExtractionError{Reason: "ocr workspace", Err: err}
	}

	texts := make([]string, 0, pageCount)
	var skipped []int
	var lastErr error
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &framework.ExtractionError{Reason: "cancelled", SkippedPages: skipped, Err: err}
		}
		text, err := e.recognizer.RecognizePage(ctx, path, page)
		if err != nil {
			e.logger.Warn("ocr page failed; skipping", zap.Int("page", page), zap.Error(err))
			skipped = append(skipped, page)
			lastErr = err
			continue
		}
		texts = append(texts, text)
	}
	if len(skipped) == pageCount {
		return nil, &framework.ExtractionError{Reason: "every page failed recognition", SkippedPages: skipped, Err: lastErr}
	}
	text := joinPages(texts)
	if text == "" {
		return nil, &framework.ExtractionError{Reason: "no recognizable text", SkippedPages: skipped}
	}
	return &Extraction{Text: text, Method: MethodOCR, Pages: pageCount, SkippedPages: skipped}, nil
}

func joinPages(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
