package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	pages  int
	text   map[string]string // by file base name
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()

	if name == f.failOn {
		return nil, []byte("boom"), errors.New("exit status 1")
	}
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			p := prefix + "-" + string(rune('0'+i)) + ".png"
			if err := os.WriteFile(p, []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		return []byte(f.text[filepath.Base(args[0])]), nil, nil
	}
	return nil, nil, nil
}

func (f *fakeRunner) named(name string) []call {
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestRecognizeImageRejectsGarbage(t *testing.T) {
	fr := &fakeRunner{}
	e := NewEngine(Config{}, nil).WithRunner(fr)

	_, err := e.RecognizeImage(context.Background(), []byte("definitely not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err=%v", err)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("runner called %d times", len(fr.calls))
	}
}

func TestRecognizeImageRunsTesseract(t *testing.T) {
	fr := &fakeRunner{text: map[string]string{"ticket.png": "SMITH, JOHN\n"}}
	e := NewEngine(Config{Lang: "eng", PSM: 6, TessdataDir: "/td"}, nil).WithRunner(fr)

	got, err := e.RecognizeImage(context.Background(), samplePNG(t))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got != "SMITH, JOHN\n" {
		t.Fatalf("text=%q", got)
	}

	tc := fr.named("tesseract")
	if len(tc) != 1 {
		t.Fatalf("tesseract calls=%d", len(tc))
	}
	args := strings.Join(tc[0].args[1:], " ")
	if args != "stdout -l eng --psm 6 --tessdata-dir /td" {
		t.Fatalf("args=%q", args)
	}
	if len(fr.named("magick")) != 0 {
		t.Fatal("magick should not run without preprocess")
	}
}

func TestRecognizeImageMagickPreprocess(t *testing.T) {
	fr := &fakeRunner{text: map[string]string{"ticket-bin.png": "VACUUM"}}
	e := NewEngine(Config{Preprocess: PreprocessMagick}, nil).WithRunner(fr)

	got, err := e.RecognizeImage(context.Background(), samplePNG(t))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got != "VACUUM" {
		t.Fatalf("text=%q", got)
	}
	mc := fr.named("magick")
	if len(mc) != 1 {
		t.Fatalf("magick calls=%d", len(mc))
	}
	if !strings.Contains(strings.Join(mc[0].args, " "), "-colorspace Gray -blur 0x1 -lat 31x31-4%") {
		t.Fatalf("magick args=%v", mc[0].args)
	}
	if filepath.Base(fr.named("tesseract")[0].args[0]) != "ticket-bin.png" {
		t.Fatal("tesseract should read the preprocessed file")
	}
}

func TestCheckPreprocessFallsBackWithoutMagick(t *testing.T) {
	fr := &fakeRunner{}
	e := NewEngine(Config{Preprocess: PreprocessMagick}, nil).WithRunner(fr)
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	if got := e.CheckPreprocess(); got != PreprocessNone {
		t.Fatalf("mode=%q", got)
	}
	if _, err := e.RecognizeImage(context.Background(), samplePNG(t)); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(fr.named("magick")) != 0 {
		t.Fatal("magick should not run after fallback")
	}

	found := NewEngine(Config{Preprocess: PreprocessMagick}, nil)
	found.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	if got := found.CheckPreprocess(); got != PreprocessMagick {
		t.Fatalf("mode=%q", got)
	}
}

func TestRecognizeImageTesseractFailure(t *testing.T) {
	fr := &fakeRunner{failOn: "tesseract"}
	e := NewEngine(Config{}, nil).WithRunner(fr)

	_, err := e.RecognizeImage(context.Background(), samplePNG(t))
	if err == nil || errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr missing from %v", err)
	}
}

func TestRecognizePDFPages(t *testing.T) {
	fr := &fakeRunner{
		pages: 3,
		text:  map[string]string{"page-1.png": "SMITH, JOHN", "page-2.png": "TUESDAY MAINT", "page-3.png": "NOPE"},
	}
	e := NewEngine(Config{DPI: 200, MaxPages: 2}, nil).WithRunner(fr)

	got, err := e.RecognizePDF(context.Background(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got != "SMITH, JOHN\nTUESDAY MAINT" {
		t.Fatalf("text=%q", got)
	}
	pc := fr.named("pdftoppm")
	if len(pc) != 1 || pc[0].args[0] != "-r" || pc[0].args[1] != "200" {
		t.Fatalf("pdftoppm=%+v", pc)
	}
	if n := len(fr.named("tesseract")); n != 2 {
		t.Fatalf("tesseract calls=%d", n)
	}
}

func TestRecognizePDFNoPages(t *testing.T) {
	e := NewEngine(Config{}, nil).WithRunner(&fakeRunner{})
	if _, err := e.RecognizePDF(context.Background(), []byte("%PDF-1.4")); !errors.Is(err, ErrNoPages) {
		t.Fatalf("err=%v", err)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	l := NewRateLimiter(20)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.WaitTurn(ctx); err != nil {
			t.Fatalf("err=%v", err)
		}
	}
	if el := time.Since(start); el < 90*time.Millisecond {
		t.Fatalf("elapsed=%v", el)
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	l := NewRateLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.WaitTurn(ctx); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	cancel()
	if err := l.WaitTurn(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	var nilLimiter *RateLimiter
	if err := nilLimiter.WaitTurn(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := NewRateLimiter(0).WaitTurn(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
}
