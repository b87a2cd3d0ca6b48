package processing

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxFilenameLength bounds filenames produced by FilenameBuilder, in bytes.
const MaxFilenameLength = 255

// FilenameBuilder derives output filenames from an input path.
type FilenameBuilder struct {
	basename string
	ext      string
}

func NewFilenameBuilder(path string) FilenameBuilder {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	ext := filepath.Ext(base)
	return FilenameBuilder{
		basename: strings.TrimSuffix(base, ext),
		ext:      strings.ToLower(ext),
	}
}

func (b FilenameBuilder) Basename() string { return b.basename }
func (b FilenameBuilder) Ext() string { return b.ext }

// Fill substitutes {basename} and {ext} in template. The basename is cut
// on a rune boundary so the result fits in MaxFilenameLength.
func (b FilenameBuilder) Fill(template string) string {
	fixed := render(template, "", b.ext)
	room := MaxFilenameLength - len(fixed)
	if room < 0 {
		room = 0
	}

	base := b.basename
	if n := strings.Count(template, "{basename}"); n > 0 && len(base)*n > room {
		base = truncateBytes(base, room/n)
	}
	return render(template, base, b.ext)
}

func render(template, basename, ext string) string {
	return strings.NewReplacer("{basename}", basename, "{ext}", ext).Replace(template)
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
