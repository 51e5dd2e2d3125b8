package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"RevAI/internal/ports"
)

// TextDecoder accepts plain UTF-8 exports as they are.
type TextDecoder struct{}

var _ ports.Decoder = TextDecoder{}

// Name identifies the decoder inside the registry.
func (TextDecoder) Name() string { return "text" }

// Decode validates encoding and strips a UTF-8 byte order mark.
func (TextDecoder) Decode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(raw), nil
}

// HTMLDecoder flattens HTML exports into line-oriented text so that
// <N> markers and section headers land at the start of lines.
type HTMLDecoder struct{}

var _ ports.Decoder = HTMLDecoder{}

// Name identifies the decoder inside the registry.
func (HTMLDecoder) Name() string { return "html" }

// Decode renders block-level elements on their own lines.
func (HTMLDecoder) Decode(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, pre, dt, dd").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}

// Registry keeps a mapping from file extensions to decoders.
type Registry struct {
	decoders map[string]ports.Decoder
	fallback ports.Decoder
}

var _ ports.DecoderResolver = (*Registry)(nil)

// NewRegistry builds a registry that decodes .html/.htm as HTML and everything else as text.
func NewRegistry() *Registry {
	r := &Registry{decoders: map[string]ports.Decoder{}, fallback: TextDecoder{}}
	r.Register(".html", HTMLDecoder{})
	r.Register(".htm", HTMLDecoder{})
	r.Register(".txt", TextDecoder{})
	return r
}

// Register adds or replaces the decoder for an extension.
func (r *Registry) Register(ext string, decoder ports.Decoder) {
	if r.decoders == nil {
		r.decoders = map[string]ports.Decoder{}
	}
	r.decoders[strings.ToLower(ext)] = decoder
}

// Resolve returns the decoder for filename, falling back to plain text.
func (r *Registry) Resolve(filename string) ports.Decoder {
	if decoder, ok := r.decoders[strings.ToLower(filepath.Ext(filename))]; ok {
		return decoder
	}
	return r.fallback
}
