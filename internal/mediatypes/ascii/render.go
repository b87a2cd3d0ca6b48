package ascii

import (
	"fmt"
	"image"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	fontSize = 11
	padding  = 4
	tabWidth = 8
	maxLines = 500
	maxCols  = 300
)

// Render draws text in black on white using the TrueType font at
// fontPath, or a built in monospace face when fontPath is empty.
func Render(text, fontPath string) (image.Image, error) {
	face := font.Face(basicfont.Face7x13)
	if fontPath != "" {
		f, err := gg.LoadFontFace(fontPath, fontSize)
		if err != nil {
			return nil, fmt.Errorf("load font %s: %w", fontPath, err)
		}
		defer f.Close()
		face = f
	}

	lines := splitLines(text)

	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	var width float64
	for _, l := range lines {
		if w, _ := measure.MeasureString(l); w > width {
			width = w
		}
	}
	lineHeight := float64(face.Metrics().Height.Ceil())
	ascent := float64(face.Metrics().Ascent.Ceil())

	w := int(width) + 2*padding
	h := int(lineHeight)*len(lines) + 2*padding
	dc := gg.NewContext(max(w, 1), max(h, 1))
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	for i, l := range lines {
		dc.DrawString(l, padding, padding+ascent+float64(i)*lineHeight)
	}
	return dc.Image(), nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\t", strings.Repeat(" ", tabWidth))
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	for i, l := range lines {
		if r := []rune(l); len(r) > maxCols {
			lines[i] = string(r[:maxCols])
		}
	}
	return lines
}
