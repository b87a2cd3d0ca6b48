package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotFound     = errors.New("storage: file not found")
	ErrInvalidKey   = errors.New("storage: invalid key")
	ErrAccessDenied = errors.New("storage: access denied")
	// ErrNoWebServing is returned by URLFor when the backend has no public
	// base URL to serve files from.
	ErrNoWebServing = errors.New("storage: no web serving configured")
)

// Path is a hierarchical key made of path-safe segments, e.g.
// {"media_entries", "<id>", "thumb.jpg"}.
type Path []string

// Key joins the segments with "/".
func (p Path) Key() string {
	return strings.Join(p, "/")
}

func (p Path) String() string {
	return p.Key()
}

// Dir returns all segments but the last.
func (p Path) Dir() Path {
	if len(p) <= 1 {
		return nil
	}
	return p[:len(p)-1]
}

// Base returns the last segment.
func (p Path) Base() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// ParsePath splits a "/" separated key back into a Path.
func ParsePath(key string) Path {
	if key == "" {
		return nil
	}
	return Path(strings.Split(key, "/"))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to ASCII letters, digits, "_", "." and "-".
// Separators become underscores; leading dots and underscores are dropped.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	name = b.String()

	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, "._")
}

// Clean secures every segment. A segment that cleans to nothing makes the
// whole path invalid.
func (p Path) Clean() (Path, error) {
	if len(p) == 0 {
		return nil, ErrInvalidKey
	}
	out := make(Path, len(p))
	for i, seg := range p {
		c := SecureFilename(seg)
		if c == "" {
			return nil, ErrInvalidKey
		}
		out[i] = c
	}
	return out, nil
}

type Storage interface {
	Upload(ctx context.Context, path Path, reader io.Reader, contentType string, size int64) error
	Download(ctx context.Context, path Path) (io.ReadCloser, error)
	Delete(ctx context.Context, path Path) error
	Exists(ctx context.Context, path Path) (bool, error)
	// URLFor returns a public URL for path or ErrNoWebServing.
	URLFor(ctx context.Context, path Path) (string, error)
	HealthCheck(ctx context.Context) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	BaseURL   string
}

func joinURL(base string, path Path) string {
	return strings.TrimRight(base, "/") + "/" + path.Key()
}
