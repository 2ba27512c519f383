package generators

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"image/color"
	"net/url"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/choco2105/magic-reading/internal/models"
)

// Synthesizer renders a local placeholder for a beat. The result is a URL or data URI.
type Synthesizer interface {
	Synthesize(beat models.IllustrationBeat) (string, error)
}

type momentStyle struct {
	emoji string
	label string
	hex   string // placeholder background
}

var momentStyles = map[models.Moment]momentStyle{
	models.MomentOpening: {emoji: "🌅", label: "The beginning", hex: "8b5cf6"},
	models.MomentRising:  {emoji: "✨", label: "The adventure", hex: "f59e0b"},
	models.MomentClosing: {emoji: "🎉", label: "The happy ending", hex: "10b981"},
}

func styleFor(m models.Moment) momentStyle {
	if s, ok := momentStyles[m]; ok {
		return s
	}
	return momentStyle{emoji: "📖", label: "Story time", hex: "667eea"}
}

// NewSynthesizer selects a synthesizer by format name: svg, png or url
func NewSynthesizer(format string) Synthesizer {
	switch strings.ToLower(format) {
	case "png":
		return PNGSynthesizer{Size: 512}
	case "url":
		return PlaceholderURLSynthesizer{}
	default:
		return SVGSynthesizer{}
	}
}

// SVGSynthesizer draws an inline vector card with the moment's emoji and label
type SVGSynthesizer struct{}

func (SVGSynthesizer) Synthesize(beat models.IllustrationBeat) (string, error) {
	style := styleFor(beat.Moment)
	caption := html.EscapeString(beat.Caption)

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="1024" height="1024" viewBox="0 0 1024 1024">`)
	b.WriteString(`<defs><linearGradient id="bg" x1="0%" y1="0%" x2="100%" y2="100%">`)
	b.WriteString(`<stop offset="0%" style="stop-color:#667eea"/><stop offset="100%" style="stop-color:#764ba2"/>`)
	b.WriteString(`</linearGradient></defs>`)
	b.WriteString(`<rect width="1024" height="1024" fill="url(#bg)"/>`)
	b.WriteString(`<circle cx="512" cy="420" r="220" fill="white" fill-opacity="0.15"/>`)
	fmt.Fprintf(&b, `<text x="512" y="480" font-size="200" text-anchor="middle">%s</text>`, style.emoji)
	fmt.Fprintf(&b, `<text x="512" y="760" font-family="Arial, sans-serif" font-size="56" font-weight="bold" fill="white" text-anchor="middle">%s</text>`, html.EscapeString(style.label))
	if caption != "" {
		fmt.Fprintf(&b, `<text x="512" y="840" font-family="Arial, sans-serif" font-size="36" fill="white" fill-opacity="0.9" text-anchor="middle">%s</text>`, caption)
	}
	b.WriteString(`</svg>`)

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(b.String())), nil
}

// PNGSynthesizer rasterizes a gradient card with the moment label
type PNGSynthesizer struct {
	Size int
}

func (s PNGSynthesizer) Synthesize(beat models.IllustrationBeat) (string, error) {
	size := s.Size
	if size <= 0 {
		size = 512
	}
	fs := float64(size)
	style := styleFor(beat.Moment)

	dc := gg.NewContext(size, size)

	grad := gg.NewLinearGradient(0, 0, fs, fs)
	grad.AddColorStop(0, color.NRGBA{R: 0x66, G: 0x7e, B: 0xea, A: 0xff})
	grad.AddColorStop(1, color.NRGBA{R: 0x76, G: 0x4b, B: 0xa2, A: 0xff})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, fs, fs)
	dc.Fill()

	dc.SetColor(color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x26})
	dc.DrawCircle(fs/2, fs*0.4, fs*0.22)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(style.label, fs/2, fs*0.72, 0.5, 0.5)
	if beat.Caption != "" {
		dc.DrawStringWrapped(beat.Caption, fs/2, fs*0.8, 0.5, 0, fs*0.8, 1.4, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return "", fmt.Errorf("failed to encode PNG: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PlaceholderURLSynthesizer points at a remote templated placeholder service
type PlaceholderURLSynthesizer struct {
	BaseURL string
}

func (s PlaceholderURLSynthesizer) Synthesize(beat models.IllustrationBeat) (string, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://placehold.co"
	}
	style := styleFor(beat.Moment)
	text := beat.Caption
	if text == "" {
		text = style.label
	}
	q := url.Values{}
	q.Set("text", text)
	q.Set("font", "roboto")
	return fmt.Sprintf("%s/800x600/%s/ffffff?%s", strings.TrimRight(base, "/"), style.hex, q.Encode()), nil
}
