package processing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
)

func TestClassify(t *testing.T) {
	bad := BadMedia("cannot decode %s", "clip.mp4")
	tests := []struct {
		name       string
		err        error
		kind       Kind
		classifier string
		classified bool
	}{
		{"nil", nil, KindUnexpected, "", true},
		{"bad media", bad, KindMediaDefect, ClassBadMedia, true},
		{"wrapped", fmt.Errorf("step: %w", bad), KindMediaDefect, ClassBadMedia, true},
		{"missing components", MissingComponents("ffmpeg not found"), KindConfiguration, ClassMissingComponents, true},
		{"manager not found", &ManagerNotFoundError{MediaType: "audio"}, KindConfiguration, ClassNoManager, true},
		{"plain", errors.New("boom"), KindUnexpected, ClassUnexpected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.err)
			if res.Classified() != tt.classified {
				t.Errorf("Classified() = %v, want %v", res.Classified(), tt.classified)
			}
			if tt.err == nil {
				if !res.OK() {
					t.Error("OK() = false for nil error")
				}
				return
			}
			if res.Err.Kind != tt.kind || res.Err.Classifier != tt.classifier {
				t.Errorf("Classify() = %s/%s, want %s/%s", res.Err.Kind, res.Err.Classifier, tt.kind, tt.classifier)
			}
		})
	}
}

func TestError_SafeMessage(t *testing.T) {
	e := &Error{Classifier: "something_new", Err: errors.New("/etc/secret leaked in stack")}
	if e.SafeMessage() != safeMessages[ClassUnexpected] {
		t.Errorf("SafeMessage() = %q", e.SafeMessage())
	}
	if BadMedia("x").SafeMessage() != safeMessages[ClassBadMedia] {
		t.Error("SafeMessage() for bad_media does not use the table")
	}

	f := Transcoding(errors.New("exit 1"), map[string]any{"resolution": "480p"}).Failure()
	if f.Classifier != ClassTranscoding || f.Metadata["resolution"] != "480p" || f.Metadata["kind"] != "media_defect" {
		t.Errorf("Failure() = %+v", f)
	}
}

func TestTaskResultRoundTrip(t *testing.T) {
	task := fanout.Task{Index: 2, Name: "webm_720p", Main: true}

	ok := TaskResult(task, nil)
	if !ok.OK || ErrorFromResult(ok) != nil {
		t.Errorf("TaskResult(nil) = %+v", ok)
	}

	res := TaskResult(task, MissingStreams("no video stream"))
	if res.OK || res.Index != 2 || !res.Main {
		t.Fatalf("TaskResult() = %+v", res)
	}
	back := ErrorFromResult(res)
	if back.Kind != KindMediaDefect || back.Classifier != ClassMissingStreams {
		t.Errorf("ErrorFromResult() = %+v", back)
	}

	back = ErrorFromResult(fanout.Result{OK: false})
	if back.Classifier != ClassUnexpected || back.Kind != KindUnexpected {
		t.Errorf("ErrorFromResult(empty failure) = %+v", back)
	}
}
