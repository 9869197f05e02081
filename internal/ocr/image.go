package ocr

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// checkImage decodes only the header, enough to reject non-images before
// handing the bytes to tesseract.
func checkImage(blob []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return "", image.ErrFormat
	}
	return format, nil
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	case "":
		return "img"
	default:
		return format
	}
}
