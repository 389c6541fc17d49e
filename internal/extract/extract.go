// Package extract turns uploaded question files into query text: PDFs through
// their text layer, images through a vision model.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/mathcoach/internal/proxy"
)

// MaxFileSize bounds uploads accepted for extraction.
const MaxFileSize = 10 << 20

var (
	ErrUnsupported = errors.New("extract: unsupported file type")
	ErrNoText      = errors.New("extract: no text found")
	ErrTooLarge    = errors.New("extract: file too large")
)

const visionPrompt = `Extract the math problem from this image. Return only the problem statement as plain text, writing formulas inline (for example x^2 + 3x = 0). Do not solve it.`

// Completer sends one chat completion request.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (proxy.ChatResponse, error)
}

// Extractor reads question text out of files.
type Extractor struct {
	vision Completer
	model  string
}

// New creates an Extractor. A nil vision client disables image extraction.
func New(vision Completer, model string) *Extractor {
	return &Extractor{vision: vision, model: model}
}

// ExtractFile reads path and extracts its question text.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return e.Extract(ctx, filepath.Base(path), data)
}

// Extract returns the question text contained in data. name is only used
// to help identify the file type.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", ErrTooLarge
	}
	mime := detectType(name, data)

	var (
		text string
		err  error
	)
	switch {
	case mime == "application/pdf":
		text, err = PDFText(data)
	case strings.HasPrefix(mime, "image/"):
		text, err = e.imageText(ctx, mime, data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Kind names the sort of file data holds, for user-facing messages:
// "image", "PDF" or "file".
func Kind(name string, data []byte) string {
	mime := detectType(name, data)
	switch {
	case mime == "application/pdf":
		return "PDF"
	case strings.HasPrefix(mime, "image/"):
		return "image"
	default:
		return "file"
	}
}

func detectType(name string, data []byte) string {
	mime := http.DetectContentType(data)
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if mime == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".pdf":
			return "application/pdf"
		case ".png":
			return "image/png"
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".webp":
			return "image/webp"
		}
	}
	return mime
}

// PDFText returns the plain text layer of a PDF document.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

func (e *Extractor) imageText(ctx context.Context, mime string, data []byte) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("%w: image extraction not configured", ErrUnsupported)
	}
	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	resp, err := e.vision.Complete(ctx, proxy.ChatRequest{
		Model: e.model,
		Messages: []proxy.Message{{
			Role: "user",
			Parts: []proxy.ContentPart{
				{Type: "text", Text: visionPrompt},
				{Type: "image_url", ImageURL: &proxy.ImageURL{URL: url}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction: %w", err)
	}
	return resp.Choices[0].Message.Content, nil
}

// CombineQuery merges extracted question text with an optional typed prompt.
func CombineQuery(extracted, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	switch {
	case extracted == "":
		return prompt
	case prompt == "":
		return extracted
	default:
		return fmt.Sprintf("Image question: %s\n\nAdditional context: %s", extracted, prompt)
	}
}
