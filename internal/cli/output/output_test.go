package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPrinter_Success(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.Success("Submitted %s", "clip.mp4")
	if !strings.Contains(buf.String(), "Submitted clip.mp4") {
		t.Errorf("Success output = %q, want to contain 'Submitted clip.mp4'", buf.String())
	}
}

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithQuiet(true))

	p.Success("Done")
	p.Info("Info")
	p.KeyValue("k", "v")
	if buf.Len() != 0 {
		t.Errorf("quiet printer produced output %q", buf.String())
	}
}

func TestPrinter_JSONModeSuppressesText(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithJSON(true))

	p.Info("Hello %s", "World")
	if buf.Len() != 0 {
		t.Errorf("Info in JSON mode should produce no output, got %q", buf.String())
	}
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithErrOutput(&buf), WithNoColor(true))

	p.Error("Something failed")
	if !strings.Contains(buf.String(), "Something failed") {
		t.Errorf("Error output = %q, want to contain 'Something failed'", buf.String())
	}

	buf.Reset()
	j := New(WithErrOutput(&buf), WithJSON(true), WithQuiet(true))
	j.Error("entry %s not found", "abc")
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("JSON Error output = %q: %v", buf.String(), err)
	}
	if got["error"] != "entry abc not found" {
		t.Errorf("error = %q, want 'entry abc not found'", got["error"])
	}
}

func TestPrinter_Indent(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.Indent("took %s", "1.5s")
	if !strings.Contains(buf.String(), "took 1.5s") {
		t.Errorf("Indent output = %q", buf.String())
	}
	if p.IsQuiet() {
		t.Error("IsQuiet() = true, want false")
	}
}

func TestPrinter_State(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.State("abc", "failed", "bad_media")
	if got := buf.String(); !strings.Contains(got, "abc") || !strings.Contains(got, "failed (bad_media)") {
		t.Errorf("State output = %q", got)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"ACTION", "DESCRIPTION"}, false)
	table.Append("initial", "Initial processing")
	table.Append("resize", "Resize thumbnail")
	table.Render()

	out := buf.String()
	for _, want := range []string{"ACTION", "initial", "Resize thumbnail"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table output should contain %q, got %q", want, out)
		}
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestTable_Quiet(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"Name"}, true)
	table.Append("x")
	table.Render()

	if buf.Len() != 0 {
		t.Errorf("Table with quiet should produce no output, got %q", buf.String())
	}
}

func TestByteProgress_Quiet(t *testing.T) {
	p := NewByteProgress(10, "Uploading", true)
	n, err := p.Write([]byte("hello"))
	if n != 5 || err != nil {
		t.Errorf("Write() = %d, %v", n, err)
	}
	p.Finish()
	if p.Duration() < 0 {
		t.Error("Duration should be positive")
	}
}

func TestNewSpinner(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "Processing", true)
	s.Update("Still processing")
	s.Finish()
	if s.Duration() < 0 {
		t.Error("Duration should be positive")
	}
	if buf.Len() != 0 {
		t.Errorf("quiet spinner wrote %q", buf.String())
	}
}

func TestNewSpinner_WritesToOut(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "Processing", false)
	s.Update("Transcoding")
	s.Finish()
	if buf.Len() == 0 {
		t.Error("spinner wrote nothing")
	}
}
