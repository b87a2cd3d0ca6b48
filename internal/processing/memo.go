package processing

import (
	"bytes"
	"encoding/json"

	"github.com/cobbzilla/mediagoblin/internal/media"
)

// SchemaKey stamps slot metadata with the version of the parameter set it
// was produced from.
const SchemaKey = "_schema"

// Memo builds the metadata recorded for a slot after producing it with
// requested.
func Memo(requested map[string]any, schema int) media.FileMetadata {
	md := make(media.FileMetadata, len(requested)+1)
	for k, v := range requested {
		md[k] = v
	}
	md[SchemaKey] = schema
	return md
}

// ShouldSkip reports whether a slot recorded with `recorded` already
// satisfies `requested`. Values compare by their JSON encoding so that
// metadata read back from storage matches freshly typed values. Metadata
// from another schema version never matches.
func ShouldSkip(recorded media.FileMetadata, requested map[string]any, schema int) bool {
	if recorded == nil {
		return false
	}
	if !jsonEqual(recorded[SchemaKey], schema) {
		return false
	}
	for k, want := range requested {
		got, ok := recorded[k]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
