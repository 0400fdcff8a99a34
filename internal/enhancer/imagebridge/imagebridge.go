// Package imagebridge moves images between memory and the files tpai reads
// and writes.
package imagebridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("write %s: nil image", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Read decodes the image at path. Formats tpai can emit that have a Go
// decoder are supported: png, jpeg, gif, tiff, bmp and webp.
func Read(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	return img, format, nil
}

// EncodeBase64PNG returns img as base64 encoded PNG data.
func EncodeBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBase64 decodes base64 image data, with or without a data URL prefix.
func DecodeBase64(s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image data: %w", err)
	}
	return img, nil
}

// Namer hands out temp file names unique within a process: the run ID
// carries the timestamp and a counter separates names within one run.
type Namer struct {
	Prefix string
	RunID  string
	seq    atomic.Uint64
}

// Next returns a fresh file name with extension ext.
func (n *Namer) Next(ext string) string {
	prefix := n.Prefix
	if prefix == "" {
		prefix = "tpai"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s-%s-%d%s", prefix, n.RunID, n.seq.Add(1), ext)
}
