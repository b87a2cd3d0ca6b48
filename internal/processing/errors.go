package processing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cobbzilla/mediagoblin/internal/fanout"
	"github.com/cobbzilla/mediagoblin/internal/media"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindConfiguration
	KindMediaDefect
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindMediaDefect:
		return "media_defect"
	case KindTransient:
		return "transient"
	default:
		return "unexpected"
	}
}

func ParseKind(s string) Kind {
	switch s {
	case "configuration":
		return KindConfiguration
	case "media_defect":
		return KindMediaDefect
	case "transient":
		return KindTransient
	default:
		return KindUnexpected
	}
}

// Classifiers recorded as fail_error.
const (
	ClassNoProcessor       = "no_processor"
	ClassNoManager         = "no_media_manager"
	ClassMissingComponents = "missing_components"
	ClassBadMedia          = "bad_media"
	ClassMissingStreams    = "missing_streams"
	ClassTranscoding       = "video_transcoding"
	ClassInvalidParams     = "invalid_params"
	ClassStaleProcessing   = "stale_processing"
	ClassUnexpected        = "unexpected"
)

var safeMessages = map[string]string{
	ClassNoProcessor:       "No processor is able to handle this media.",
	ClassNoManager:         "This media type is not supported.",
	ClassMissingComponents: "The server is missing a component required to process this media.",
	ClassBadMedia:          "The file could not be read. It may be corrupt or in an unsupported format.",
	ClassMissingStreams:    "The file is missing required audio or video streams.",
	ClassTranscoding:       "The video could not be converted.",
	ClassInvalidParams:     "Invalid processing options.",
	ClassStaleProcessing:   "Processing did not finish in time.",
	ClassUnexpected:        "An unexpected error occurred while processing this media.",
}

// Error is a classified processing failure.
type Error struct {
	Kind       Kind
	Classifier string
	Message    string
	Metadata   map[string]any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Classifier)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// SafeMessage is the text shown to users for this failure.
func (e *Error) SafeMessage() string {
	if msg, ok := safeMessages[e.Classifier]; ok {
		return msg
	}
	return safeMessages[ClassUnexpected]
}

// Failure converts e into what is recorded on the entry.
func (e *Error) Failure() media.Failure {
	md := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md["kind"] = e.Kind.String()
	if e.Message != "" {
		md["message"] = e.Message
	}
	return media.Failure{Classifier: e.Classifier, Metadata: md}
}

func newError(kind Kind, classifier, format string, args ...any) *Error {
	return &Error{Kind: kind, Classifier: classifier, Message: fmt.Sprintf(format, args...)}
}

func BadMedia(format string, args ...any) *Error {
	return newError(KindMediaDefect, ClassBadMedia, format, args...)
}

func MissingStreams(format string, args ...any) *Error {
	return newError(KindMediaDefect, ClassMissingStreams, format, args...)
}

func MissingComponents(format string, args ...any) *Error {
	return newError(KindConfiguration, ClassMissingComponents, format, args...)
}

func InvalidParams(format string, args ...any) *Error {
	return newError(KindConfiguration, ClassInvalidParams, format, args...)
}

// Transcoding wraps a codec failure.
func Transcoding(err error, md map[string]any) *Error {
	return &Error{Kind: KindMediaDefect, Classifier: ClassTranscoding, Message: "transcoding failed", Metadata: md, Err: err}
}

// WithMetadata returns a copy of e carrying md.
func (e *Error) WithMetadata(md map[string]any) *Error {
	c := *e
	c.Metadata = md
	return &c
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// NoProcessorFoundError is returned when zero or several steps match an
// action for an entry.
type NoProcessorFoundError struct {
	MediaType  string
	Action     string
	State      media.State
	Candidates []string
}

func (e *NoProcessorFoundError) Error() string {
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("processing: ambiguous processor for action %q on %s entry in state %s: %s",
			e.Action, e.MediaType, e.State, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("processing: no processor found for action %q on %s entry in state %s", e.Action, e.MediaType, e.State)
}

type ManagerNotFoundError struct {
	MediaType string
}

func (e *ManagerNotFoundError) Error() string {
	return fmt.Sprintf("processing: no media manager registered for %q", e.MediaType)
}

// Result is the outcome of a step. A nil Err is success.
type Result struct {
	Err *Error
}

func (r Result) OK() bool { return r.Err == nil }

// Classified reports whether the failure, if any, belongs to a known
// category.
func (r Result) Classified() bool {
	return r.Err == nil || r.Err.Kind != KindUnexpected
}

// Classify maps any error returned by a step onto a Result.
func Classify(err error) Result {
	if err == nil {
		return Result{}
	}

	var pe *Error
	if errors.As(err, &pe) {
		return Result{Err: pe}
	}

	var npf *NoProcessorFoundError
	if errors.As(err, &npf) {
		return Result{Err: &Error{
			Kind:       KindConfiguration,
			Classifier: ClassNoProcessor,
			Message:    npf.Error(),
			Metadata:   map[string]any{"action": npf.Action, "candidates": npf.Candidates},
			Err:        err,
		}}
	}

	var mnf *ManagerNotFoundError
	if errors.As(err, &mnf) {
		return Result{Err: &Error{
			Kind:       KindConfiguration,
			Classifier: ClassNoManager,
			Message:    mnf.Error(),
			Metadata:   map[string]any{"media_type": mnf.MediaType},
			Err:        err,
		}}
	}

	return Result{Err: &Error{
		Kind:       KindUnexpected,
		Classifier: ClassUnexpected,
		Message:    err.Error(),
		Metadata:   map[string]any{"error_type": fmt.Sprintf("%T", err)},
		Err:        err,
	}}
}

// TaskResult converts the outcome of a fan-out task.
func TaskResult(t fanout.Task, err error) fanout.Result {
	res := fanout.Result{Index: t.Index, Name: t.Name, Main: t.Main, OK: err == nil}
	if err == nil {
		return res
	}
	pe := Classify(err).Err
	res.Kind = pe.Kind.String()
	res.Classifier = pe.Classifier
	res.Message = pe.Message
	res.Metadata = pe.Metadata
	return res
}

// ErrorFromResult is the inverse of TaskResult. It returns nil for a
// successful result.
func ErrorFromResult(r fanout.Result) *Error {
	if r.OK {
		return nil
	}
	classifier := r.Classifier
	if classifier == "" {
		classifier = ClassUnexpected
	}
	return &Error{
		Kind:       ParseKind(r.Kind),
		Classifier: classifier,
		Message:    r.Message,
		Metadata:   r.Metadata,
	}
}
