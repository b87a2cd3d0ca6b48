package processing

import (
	"encoding/json"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/media"
)

func TestShouldSkip(t *testing.T) {
	requested := map[string]any{
		"medium_size":    Size{640, 640},
		"vp8_quality":    8,
		"vp8_threads":    2,
		"vorbis_quality": 0.3,
	}

	fresh := Memo(requested, 1)
	if !ShouldSkip(fresh, requested, 1) {
		t.Error("ShouldSkip() on identical parameters = false")
	}

	// Metadata read back from a JSON column.
	data, _ := json.Marshal(fresh)
	var stored media.FileMetadata
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if !ShouldSkip(stored, requested, 1) {
		t.Error("ShouldSkip() after a JSON round trip = false")
	}

	changed := map[string]any{"medium_size": Size{640, 640}, "vp8_quality": 9, "vp8_threads": 2, "vorbis_quality": 0.3}
	if ShouldSkip(stored, changed, 1) {
		t.Error("ShouldSkip() with a changed quality = true")
	}
	if ShouldSkip(stored, requested, 2) {
		t.Error("ShouldSkip() across schema versions = true")
	}

	legacy := media.FileMetadata{"medium_size": []any{640.0, 640.0}, "vp8_quality": 8.0, "vp8_threads": 2.0, "vorbis_quality": 0.3}
	if ShouldSkip(legacy, requested, 1) {
		t.Error("ShouldSkip() on unstamped metadata = true")
	}
	if ShouldSkip(nil, requested, 1) {
		t.Error("ShouldSkip(nil) = true")
	}
}
