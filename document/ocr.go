package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOCRLanguage = "eng"
	defaultOCRDPI      = 300
	defaultOCRTimeout  = 60 * time.Second
)

// OCRConfig tunes the pdftoppm + tesseract recognizer.
type OCRConfig struct {
	PdftoppmPath  string
	TesseractPath string
	Language      string
	DPI           int
	PageTimeout   time.Duration
}

// TesseractRecognizer renders one page with pdftoppm and recognizes it with
// tesseract.
type TesseractRecognizer struct {
	runner CommandRunner
	cfg    OCRConfig
}

// NewTesseractRecognizer fills config defaults. A nil runner uses the host.
func NewTesseractRecognizer(runner CommandRunner, cfg OCRConfig) *TesseractRecognizer {
	if runner == nil {
		runner = LocalCommandRunner{}
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = defaultOCRLanguage
	}
	if cfg.DPI <= 0 {
		cfg.DPI = defaultOCRDPI
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultOCRTimeout
	}
	return &TesseractRecognizer{runner: runner, cfg: cfg}
}

// RecognizePage returns the recognized text of a 1-based page.
func (t *TesseractRecognizer) RecognizePage(ctx context.Context, pdfPath string, page int) (string, error) {
	dir, err := os.MkdirTemp("", "gradscout-ocr-")
	if err != nil {
		return "", fmt.Errorf("ocr workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	_, stderr, err := t.runner.Run(ctx, CommandRequest{
		Args: []string{
			t.cfg.PdftoppmPath,
			"-f", n, "-l", n,
			"-r", strconv.Itoa(t.cfg.DPI),
			"-png", "-singlefile",
			pdfPath, prefix,
		},
		Timeout: t.cfg.PageTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("rasterize page %d: %w%s", page, err, stderrSuffix(stderr))
	}
	stdout, stderr, err := t.runner.Run(ctx, CommandRequest{
		Args:    []string{t.cfg.TesseractPath, prefix + ".png", "stdout", "-l", t.cfg.Language},
		Timeout: t.cfg.PageTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("recognize page %d: %w%s", page, err, stderrSuffix(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

func stderrSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	return ": " + stderr
}
