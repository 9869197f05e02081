package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ticketscan/internal/config"
	"ticketscan/internal/logging"
)

var (
	ErrInvalidImage = errors.New("invalid image file")
	ErrNoPages      = errors.New("pdf rendered no pages")
)

const (
	PreprocessNone   = "none"
	PreprocessMagick = "magick"
)

type Config struct {
	Tesseract   string // binary name or absolute path; default "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // 0 = tesseract default
	OEM         int // 0 = tesseract default

	Preprocess string // none | magick; empty means none
	Magick     string // default "magick"

	Pdftoppm string // default "pdftoppm"
	DPI      int    // default 300
	MaxPages int    // 0 = no limit

	RatePerSecond int
	Timeout       time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Tesseract:     cfg.TesseractBin,
		Lang:          cfg.TesseractLang,
		TessdataDir:   cfg.TessdataDir,
		PSM:           cfg.TesseractPSM,
		OEM:           cfg.TesseractOEM,
		Preprocess:    cfg.OCRPreprocess,
		Magick:        cfg.MagickBin,
		Pdftoppm:      cfg.PdftoppmBin,
		DPI:           cfg.PDFDPI,
		MaxPages:      cfg.PDFMaxPages,
		RatePerSecond: cfg.OCRRateLimit,
		Timeout:       time.Duration(cfg.OCRTimeoutSec) * time.Second,
	}
}

// Engine turns ticket images and scanned PDFs into raw text via tesseract.
type Engine struct {
	cfg     Config
	runner   Runner
	lookPath func(string) (string, error)
	limiter  *RateLimiter
	logger   *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	logger = logging.OrDefault(logger)
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.Preprocess == "" {
		cfg.Preprocess = PreprocessNone
	}
	if cfg.Magick == "" {
		cfg.Magick = "magick"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Engine{
		cfg:      cfg,
		runner:   execRunner{logger: logger},
		lookPath: exec.LookPath,
		limiter:  NewRateLimiter(cfg.RatePerSecond),
		logger:   logger,
	}
}

// WithRunner swaps the process runner, mainly for tests.
func (e *Engine) WithRunner(r Runner) *Engine {
	e.runner = r
	return e
}

// CheckPreprocess drops back to plain tesseract when magick preprocessing is
// configured but the binary cannot be found. It reports the mode in effect.
func (e *Engine) CheckPreprocess() string {
	if e.cfg.Preprocess != PreprocessMagick {
		return e.cfg.Preprocess
	}
	if _, err := e.lookPath(e.cfg.Magick); err != nil {
		e.logger.Warn("magick not found, OCR preprocessing disabled", "bin", e.cfg.Magick, "error", err)
		e.cfg.Preprocess = PreprocessNone
	}
	return e.cfg.Preprocess
}

// RecognizeImage validates an uploaded image and returns tesseract's text for it.
// Undecodable input yields an error wrapping ErrInvalidImage.
func (e *Engine) RecognizeImage(ctx context.Context, blob []byte) (string, error) {
	format, err := checkImage(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "ticketscan-img-*")
	if err != nil {
		return "", err
	}
	defer e.removeAll(tmpDir)

	in := filepath.Join(tmpDir, "ticket."+extensionFor(format))
	if err := os.WriteFile(in, blob, 0o600); err != nil {
		return "", err
	}

	path, err := e.preprocess(ctx, in, tmpDir)
	if err != nil {
		return "", err
	}
	return e.tesseract(ctx, path)
}

// RecognizePDF rasterizes a scanned PDF with pdftoppm and OCRs every page.
func (e *Engine) RecognizePDF(ctx context.Context, blob []byte) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "ticketscan-pdf-*")
	if err != nil {
		return "", err
	}
	defer e.removeAll(tmpDir)

	in := filepath.Join(tmpDir, "ticket.pdf")
	if err := os.WriteFile(in, blob, 0o600); err != nil {
		return "", err
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", in, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(errb)))
	}

	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if e.cfg.MaxPages > 0 && len(pages) > e.cfg.MaxPages {
		pages = pages[:e.cfg.MaxPages]
	}
	if len(pages) == 0 {
		return "", ErrNoPages
	}

	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		path, err := e.preprocess(ctx, page, tmpDir)
		if err != nil {
			return "", err
		}
		txt, err := e.tesseract(ctx, path)
		if err != nil {
			return "", fmt.Errorf("page %s: %w", filepath.Base(page), err)
		}
		texts = append(texts, txt)
	}
	e.logger.Debug("pdf recognized", "pages", len(pages))
	return strings.Join(texts, "\n"), nil
}

// preprocess applies grayscale, blur and a local adaptive threshold before OCR.
func (e *Engine) preprocess(ctx context.Context, in, dir string) (string, error) {
	if e.cfg.Preprocess != PreprocessMagick {
		return in, nil
	}
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))+"-bin.png")
	_, errb, err := e.runner.Run(ctx, e.cfg.Magick, in,
		"-colorspace", "Gray",
		"-blur", "0x1",
		"-lat", "31x31-4%",
		out,
	)
	if err != nil {
		return "", fmt.Errorf("magick preprocess: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return out, nil
}

func (e *Engine) tesseract(ctx context.Context, path string) (string, error) {
	if err := e.limiter.WaitTurn(ctx); err != nil {
		return "", err
	}

	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

func (e *Engine) removeAll(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("failed to remove temp dir", "dir", dir, "error", err)
	}
}
