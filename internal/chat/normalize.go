package chat

import (
	"regexp"
	"strings"
)

// ImagePlaceholder is substituted when multipart content holds images but no
// text and the target backend cannot accept image input. A text-only model
// must never receive an empty message or a raw data URL.
const ImagePlaceholder = "[Image attachments are not supported by this model]"

// dataURLPattern matches data:<mime>;base64,<payload> image URLs. Capture
// groups: media type, base64 payload.
var dataURLPattern = regexp.MustCompile(`^data:([a-zA-Z0-9][a-zA-Z0-9!#$&^_.+-]*/[a-zA-Z0-9][a-zA-Z0-9!#$&^_.+-]*);base64,(.+)$`)

// FlattenText collapses content to a single string for text-only backends.
// Multipart content becomes the newline-joined concatenation of its text
// parts. Content with zero text parts and at least one image part yields
// ImagePlaceholder: images are summarized deterministically, never dropped
// into an empty string.
func FlattenText(c Content) string {
	if !c.IsParts() {
		return c.Text()
	}
	var texts []string
	hasImage := false
	for _, p := range c.Parts() {
		switch part := p.(type) {
		case TextPart:
			texts = append(texts, part.Text)
		case ImagePart:
			hasImage = true
		}
	}
	if len(texts) == 0 && hasImage {
		return ImagePlaceholder
	}
	return strings.Join(texts, "\n")
}

// ParseDataURL splits a data:<mime>;base64,<payload> URL into its media type
// and base64 payload. ok is false for anything that does not match the
// pattern, including plain https:// URLs.
func ParseDataURL(url string) (mediaType, data string, ok bool) {
	m := dataURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Reconstruct rebuilds a stored user turn as multimodal content. A message
// with image attachments targeting a vision-capable model becomes a part
// list (text first when present, then one image part per attachment);
// anything else degrades to plain text so vision-incapable models never see
// image parts.
func Reconstruct(text string, imageURLs []string, supportsVision bool) Content {
	if len(imageURLs) == 0 || !supportsVision {
		return TextContent(text)
	}
	var parts []Part
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, u := range imageURLs {
		parts = append(parts, ImagePart{URL: u})
	}
	c, err := PartsContent(parts)
	if err != nil {
		return TextContent(text)
	}
	return c
}
