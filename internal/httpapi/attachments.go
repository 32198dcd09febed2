package httpapi

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chatgate-io/chatgate/internal/chat"
)

// Attachment limits enforced before payment is quoted.
const (
	maxFiles    = 4
	maxFileSize = 5 * 1024 * 1024 // 5 MiB per file
)

// FileUpload is one inbound attachment: a data URL plus client-reported
// metadata.
type FileUpload struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	DataURL string `json:"dataUrl"`
}

// validateFiles checks count, per-file size, and the strict
// data:<mime>;base64,<payload> shape. The decoded payload size is the
// authoritative one; the client-reported Size is advisory.
func validateFiles(files []FileUpload) error {
	if len(files) > maxFiles {
		return fmt.Errorf("too many attachments: %d (max %d)", len(files), maxFiles)
	}
	for _, f := range files {
		mediaType, data, ok := chat.ParseDataURL(f.DataURL)
		if !ok {
			return fmt.Errorf("attachment %q is not a valid data URL", f.Name)
		}
		if f.Type != "" && f.Type != mediaType {
			return fmt.Errorf("attachment %q type mismatch: header says %s, data URL says %s", f.Name, f.Type, mediaType)
		}
		decoded := base64.StdEncoding.DecodedLen(len(data))
		if decoded > maxFileSize {
			return fmt.Errorf("attachment %q exceeds the %d MiB limit", f.Name, maxFileSize/(1024*1024))
		}
	}
	return nil
}

func isImage(f FileUpload) bool {
	mediaType, _, ok := chat.ParseDataURL(f.DataURL)
	return ok && strings.HasPrefix(mediaType, "image/")
}

func isPDF(f FileUpload) bool {
	mediaType, _, ok := chat.ParseDataURL(f.DataURL)
	return ok && mediaType == "application/pdf"
}

// buildUserContent assembles the current turn: message text, PDF-extracted
// text, then image parts. Images only become parts; PDFs only become text.
// Non-image, non-PDF attachments contribute a named placeholder so the
// model knows something was attached.
func buildUserContent(message string, files []FileUpload, extract PDFExtractor) (chat.Content, error) {
	var textSections []string
	if message != "" {
		textSections = append(textSections, message)
	}
	var images []string

	for _, f := range files {
		switch {
		case isImage(f):
			images = append(images, f.DataURL)
		case isPDF(f):
			section, err := extractPDFText(f, extract)
			if err != nil {
				return chat.Content{}, err
			}
			textSections = append(textSections, section)
		default:
			textSections = append(textSections, fmt.Sprintf("[Attachment: %s]", f.Name))
		}
	}

	text := strings.Join(textSections, "\n\n")
	if len(images) == 0 {
		return chat.TextContent(text), nil
	}

	var parts []chat.Part
	if text != "" {
		parts = append(parts, chat.TextPart{Text: text})
	}
	for _, url := range images {
		parts = append(parts, chat.ImagePart{URL: url})
	}
	return chat.PartsContent(parts)
}

func extractPDFText(f FileUpload, extract PDFExtractor) (string, error) {
	if extract == nil {
		return fmt.Sprintf("[PDF attachment: %s]", f.Name), nil
	}
	_, data, _ := chat.ParseDataURL(f.DataURL)
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("attachment %q: invalid base64 payload", f.Name)
	}
	text, err := extract(raw)
	if err != nil {
		return "", fmt.Errorf("attachment %q: PDF extraction failed: %w", f.Name, err)
	}
	return fmt.Sprintf("[PDF %s]:\n%s", f.Name, text), nil
}

// hasImageFiles reports whether any attachment is an image; this drives the
// vision price quote.
func hasImageFiles(files []FileUpload) bool {
	for _, f := range files {
		if isImage(f) {
			return true
		}
	}
	return false
}
