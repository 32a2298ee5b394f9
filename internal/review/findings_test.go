package review

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/reviewd/internal/ollama"
)

func TestParseFindings_BareArray(t *testing.T) {
	raw := `[{"line": 4, "severity": "high", "message": "sql injection", "reasoning": "user input concatenated into query"}]`
	findings := ParseFindings(raw)
	if len(findings) != 1 {
		t.Fatalf("parsed %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Line == nil || *f.Line != 4 {
		t.Errorf("line = %v, want 4", f.Line)
	}
	if f.Severity != SeverityHigh {
		t.Errorf("severity = %q, want high", f.Severity)
	}
	if f.Message != "sql injection" {
		t.Errorf("message = %q", f.Message)
	}
}

func TestParseFindings_EnvelopeObject(t *testing.T) {
	raw := `{"findings": [{"severity": "low", "message": "unused import", "reasoning": "r"}]}`
	findings := ParseFindings(raw)
	if len(findings) != 1 {
		t.Fatalf("parsed %d findings, want 1", len(findings))
	}
	if findings[0].Severity != SeverityLow {
		t.Errorf("severity = %q, want low", findings[0].Severity)
	}
}

func TestParseFindings_MarkdownFence(t *testing.T) {
	raw := "```json\n[{\"severity\": \"medium\", \"message\": \"m\", \"reasoning\": \"r\"}]\n```"
	findings := ParseFindings(raw)
	if len(findings) != 1 {
		t.Fatalf("parsed %d findings, want 1", len(findings))
	}
	if findings[0].Message != "m" {
		t.Errorf("message = %q, want m", findings[0].Message)
	}
}

func TestParseFindings_NormalizesFields(t *testing.T) {
	raw := `[
		{"severity": "HIGH", "message": "a", "reasoning": "r"},
		{"severity": "bogus", "message": "b", "reasoning": "r"},
		{"severity": "low", "message": "c"}
	]`
	findings := ParseFindings(raw)
	if len(findings) != 3 {
		t.Fatalf("parsed %d findings, want 3", len(findings))
	}
	if findings[0].Severity != SeverityHigh {
		t.Errorf("upper-cased severity normalized to %q, want high", findings[0].Severity)
	}
	if findings[1].Severity != SeverityMedium {
		t.Errorf("unknown severity normalized to %q, want medium", findings[1].Severity)
	}
	if findings[2].Reasoning != DefaultReasoning {
		t.Errorf("missing reasoning = %q, want default placeholder", findings[2].Reasoning)
	}
	if findings[0].Line != nil {
		t.Errorf("absent line decoded as %v, want nil", findings[0].Line)
	}
}

func TestParseFindings_MalformedOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "I think this code looks fine overall."},
		{"truncated json", `[{"severity": "high", "mess`},
		{"empty array", `[]`},
		{"object without findings", `{"verdict": "ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := ParseFindings(tt.raw)
			if len(findings) != 1 {
				t.Fatalf("malformed output produced %d findings, want 1 synthetic", len(findings))
			}
			f := findings[0]
			if f.Severity != SeverityMedium {
				t.Errorf("synthetic severity = %q, want medium", f.Severity)
			}
			if f.Message != tt.raw {
				t.Errorf("synthetic message = %q, want the raw output", f.Message)
			}
			if f.Line != nil {
				t.Errorf("synthetic finding has line %v, want nil", f.Line)
			}
		})
	}
}

type stubEngine struct {
	response string
	err      error
	gotJSON  bool
}

func (s *stubEngine) Chat(ctx context.Context, model string, messages []ollama.Message, jsonOutput bool) (string, error) {
	s.gotJSON = jsonOutput
	return s.response, s.err
}

func TestGenerate_ParsesEngineOutput(t *testing.T) {
	engine := &stubEngine{response: `[{"severity": "low", "message": "nit", "reasoning": "style"}]`}
	g := NewGenerator(engine, "qwen2.5-coder")

	findings, err := g.Generate(context.Background(), "code", "context")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(findings) != 1 || findings[0].Message != "nit" {
		t.Errorf("findings = %+v", findings)
	}
	if !engine.gotJSON {
		t.Error("Generate did not request JSON output mode")
	}
}

func TestGenerate_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	g := NewGenerator(&stubEngine{err: boom}, "qwen2.5-coder")

	if _, err := g.Generate(context.Background(), "code", "context"); !errors.Is(err, boom) {
		t.Fatalf("Generate with failing engine: got %v, want the transport error", err)
	}
}
