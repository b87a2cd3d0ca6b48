package processing

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/storage"
)

func TestWorkbench_Lifecycle(t *testing.T) {
	mgr, err := NewWorkbenchManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkbenchManager() error = %v", err)
	}

	a, err := mgr.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, _ := mgr.Create()
	if a.Dir() == b.Dir() {
		t.Error("two workbenches share a directory")
	}

	sub, err := a.Subdir("frames")
	if err != nil {
		t.Fatalf("Subdir() error = %v", err)
	}
	if err := os.WriteFile(sub+"/f.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(a.Dir()); !os.IsNotExist(err) {
		t.Errorf("workbench dir still exists after Destroy(): %v", err)
	}
	if err := a.Destroy(); err != nil {
		t.Errorf("second Destroy() error = %v", err)
	}
	if _, err := os.Stat(b.Dir()); err != nil {
		t.Errorf("Destroy() touched a sibling workbench: %v", err)
	}
	b.Destroy()
}

func TestWorkbench_Localize(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	src := storage.Path{"queue", "abc", "clip.mp4"}
	if err := store.Upload(ctx, src, strings.NewReader("video-bytes"), "video/mp4", 11); err != nil {
		t.Fatal(err)
	}

	mgr, _ := NewWorkbenchManager(t.TempDir())
	wb, _ := mgr.Create()
	defer wb.Destroy()

	local, err := wb.Localize(ctx, store, src, "")
	if err != nil {
		t.Fatalf("Localize() error = %v", err)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "video-bytes" {
		t.Errorf("localized content = %q", data)
	}
	if !strings.HasSuffix(local, "clip.mp4") {
		t.Errorf("Localize() path = %q", local)
	}

	if _, err := wb.Localize(ctx, store, storage.Path{"missing"}, "x"); err == nil {
		t.Error("Localize() of missing file should fail")
	}
}
