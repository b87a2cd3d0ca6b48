package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain a ümlaut.txt", "i_contain_a_umlaut.txt"},
		{"..hidden", "hidden"},
		{"a/b", "a_b"},
		{"???", ""},
	}
	for _, tt := range tests {
		if got := SecureFilename(tt.in); got != tt.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathClean(t *testing.T) {
	p, err := Path{"media_entries", "42", "some file.jpg"}.Clean()
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if got := p.Key(); got != "media_entries/42/some_file.jpg" {
		t.Errorf("Clean().Key() = %q, want media_entries/42/some_file.jpg", got)
	}

	if _, err := (Path{"ok", "..."}).Clean(); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Clean() of empty segment error = %v, want ErrInvalidKey", err)
	}
	if _, err := (Path{}).Clean(); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Clean() of empty path error = %v, want ErrInvalidKey", err)
	}
}

func TestPathHelpers(t *testing.T) {
	p := ParsePath("a/b/c.txt")
	if len(p) != 3 {
		t.Fatalf("ParsePath() len = %d, want 3", len(p))
	}
	if p.Base() != "c.txt" {
		t.Errorf("Base() = %q, want c.txt", p.Base())
	}
	if !p.Dir().Equal(Path{"a", "b"}) {
		t.Errorf("Dir() = %v, want [a b]", p.Dir())
	}
	if ParsePath("") != nil {
		t.Error("ParsePath(\"\") should be nil")
	}
}

func storageSuite(t *testing.T, name string, s Storage) {
	t.Helper()
	ctx := context.Background()
	path := Path{"media_entries", "1", "file.txt"}

	t.Run(name+"/upload and download", func(t *testing.T) {
		if err := s.Upload(ctx, path, strings.NewReader("hello world"), "text/plain", 11); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		rc, err := s.Download(ctx, path)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		if string(data) != "hello world" {
			t.Errorf("Download() = %q, want hello world", data)
		}
	})

	t.Run(name+"/exists", func(t *testing.T) {
		ok, err := s.Exists(ctx, path)
		if err != nil || !ok {
			t.Errorf("Exists() = %v, %v, want true, nil", ok, err)
		}
		ok, err = s.Exists(ctx, Path{"media_entries", "1", "missing.txt"})
		if err != nil || ok {
			t.Errorf("Exists(missing) = %v, %v, want false, nil", ok, err)
		}
	})

	t.Run(name+"/download missing", func(t *testing.T) {
		_, err := s.Download(ctx, Path{"nope", "nothing.bin"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Download(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run(name+"/delete", func(t *testing.T) {
		if err := s.Delete(ctx, path); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		ok, _ := s.Exists(ctx, path)
		if ok {
			t.Error("Exists() after Delete() = true")
		}
		if err := s.Delete(ctx, path); err != nil {
			t.Errorf("second Delete() error = %v, want nil", err)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	storageSuite(t, "memory", NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStorage() error = %v", err)
	}
	storageSuite(t, "file", s)
}

func TestNewFileStorage_RelativeDir(t *testing.T) {
	if _, err := NewFileStorage("relative/dir", ""); err == nil {
		t.Error("NewFileStorage() with relative dir should fail")
	}
}

func TestURLFor(t *testing.T) {
	ctx := context.Background()
	path := Path{"media_entries", "7", "thumb.jpg"}

	fs, err := NewFileStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStorage() error = %v", err)
	}
	if _, err := fs.URLFor(ctx, path); !errors.Is(err, ErrNoWebServing) {
		t.Errorf("URLFor() without base url error = %v, want ErrNoWebServing", err)
	}

	served, err := NewFileStorage(t.TempDir(), "https://media.example.com/files/")
	if err != nil {
		t.Fatalf("NewFileStorage() error = %v", err)
	}
	got, err := served.URLFor(ctx, path)
	if err != nil {
		t.Fatalf("URLFor() error = %v", err)
	}
	if want := "https://media.example.com/files/media_entries/7/thumb.jpg"; got != want {
		t.Errorf("URLFor() = %q, want %q", got, want)
	}

	mem := NewMemoryStorage()
	if _, err := mem.URLFor(ctx, path); !errors.Is(err, ErrNoWebServing) {
		t.Errorf("memory URLFor() error = %v, want ErrNoWebServing", err)
	}
}

func TestMemoryStorage_InvalidKey(t *testing.T) {
	s := NewMemoryStorage()
	err := s.Upload(context.Background(), nil, strings.NewReader("x"), "text/plain", 1)
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Upload(nil) error = %v, want ErrInvalidKey", err)
	}
}

func TestMemoryStorage_ContextCancelled(t *testing.T) {
	s := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Upload(ctx, Path{"k"}, strings.NewReader("x"), "", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Upload() error = %v, want context.Canceled", err)
	}
}

func TestMemoryStorage_Concurrent(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := Path{"slot", string(rune('a' + i%26)), "f"}
			_ = s.Upload(ctx, p, strings.NewReader("data"), "text/plain", 4)
			_, _ = s.Exists(ctx, p)
		}(i)
	}
	wg.Wait()

	if s.Count() != 26 {
		t.Errorf("Count() = %d, want 26", s.Count())
	}
}
