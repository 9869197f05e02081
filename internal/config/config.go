package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"ticketscan/internal/util"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	HTTPAddr       string
	UploadMaxBytes int64
	StoreUploads   bool

	LogLevel  string
	LogFormat string

	TesseractBin   string
	TesseractLang  string
	TessdataDir    string
	TesseractPSM   int
	TesseractOEM   int
	OCRPreprocess  string
	MagickBin      string
	PdftoppmBin    string
	PDFDPI         int
	PDFMaxPages    int
	OCRRateLimit   int
	OCRConcurrency int
	OCRTimeoutSec  int

	StreetSuffixes []string
	TaskKeywords   []string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string
	GmailQuery        string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "tickets.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 20<<20)),
		StoreUploads:   getEnvBool("STORE_UPLOADS", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		TesseractBin:   getEnv("TESSERACT_BIN", "tesseract"),
		TesseractLang:  getEnv("TESSERACT_LANG", "eng"),
		TessdataDir:    getEnv("TESSDATA_PREFIX", ""),
		TesseractPSM:   getEnvInt("TESSERACT_PSM", 0),
		TesseractOEM:   getEnvInt("TESSERACT_OEM", 0),
		OCRPreprocess:  strings.ToLower(getEnv("OCR_PREPROCESS", "magick")),
		MagickBin:      getEnv("MAGICK_BIN", "magick"),
		PdftoppmBin:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
		PDFDPI:         getEnvInt("PDF_DPI", 300),
		PDFMaxPages:    getEnvInt("PDF_MAX_PAGES", 0),
		OCRRateLimit:   getEnvInt("OCR_RATE_LIMIT_RPS", 4),
		OCRConcurrency: getEnvInt("OCR_CONCURRENCY", 2),
		OCRTimeoutSec:  getEnvInt("OCR_TIMEOUT_SEC", 60),

		StreetSuffixes: getEnvList("STREET_SUFFIXES", nil),
		TaskKeywords:   getEnvList("TASK_KEYWORDS", nil),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailQuery:        getEnv("GMAIL_QUERY", "has:attachment is:unread"),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
	}

	if cfg.OCRPreprocess != "none" && cfg.OCRPreprocess != "magick" {
		return Config{}, fmt.Errorf("invalid OCR_PREPROCESS %q: want none|magick", cfg.OCRPreprocess)
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := getEnv(key, "")
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	list := util.SplitList(value)
	if len(list) == 0 {
		return fallback
	}
	return list
}
