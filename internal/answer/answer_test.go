package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/contextqa/internal/domain"
)

type fakeModel struct {
	reply  string
	err    error
	calls  int
	system string
	prompt string
}

func (f *fakeModel) Complete(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system = system
	f.prompt = prompt
	return f.reply, f.err
}

func TestAnswerEmptyContextSkipsModel(t *testing.T) {
	model := &fakeModel{reply: "should not be used"}
	s := NewSynthesizer(model)

	for _, docs := range [][]domain.Document{nil, {}, {{Text: "  "}, {Text: "\n"}}} {
		got := s.Answer(context.Background(), "What animal is mentioned?", docs)
		if got != NoInformation {
			t.Errorf("Expected fallback, got %q", got)
		}
	}
	if model.calls != 0 {
		t.Errorf("Expected model not to be called, got %d calls", model.calls)
	}
}

func TestAnswerUsesModelReply(t *testing.T) {
	model := &fakeModel{reply: "  A fox.\n"}
	s := NewSynthesizer(model)

	docs := []domain.Document{{Text: "The quick brown fox jumps."}, {Text: "It was sunny."}}
	got := s.Answer(context.Background(), "What animal is mentioned?", docs)
	if got != "A fox." {
		t.Errorf("Expected trimmed model reply, got %q", got)
	}
	if model.calls != 1 {
		t.Fatalf("Expected one model call, got %d", model.calls)
	}
	if model.system != SystemPrompt {
		t.Errorf("Unexpected system prompt %q", model.system)
	}
	if !strings.Contains(model.prompt, "The quick brown fox jumps.\n\nIt was sunny.") {
		t.Errorf("Prompt missing joined context: %q", model.prompt)
	}
	if !strings.HasSuffix(model.prompt, "Question:\nWhat animal is mentioned?\n\nProvide the best possible answer:") {
		t.Errorf("Prompt has unexpected ending: %q", model.prompt)
	}
	if !strings.Contains(model.prompt, NotInContent) {
		t.Errorf("Prompt missing the not-in-content instruction")
	}
}

func TestAnswerModelFailureFallsBack(t *testing.T) {
	cases := []*fakeModel{
		{err: errors.New("provider 503")},
		{reply: "   "},
	}
	for _, model := range cases {
		got := NewSynthesizer(model).Answer(context.Background(), "q", []domain.Document{{Text: "ctx"}})
		if got != NoInformation {
			t.Errorf("Expected fallback, got %q", got)
		}
		if model.calls != 1 {
			t.Errorf("Expected exactly one attempt, got %d", model.calls)
		}
	}
}

func TestAnswerWithoutModel(t *testing.T) {
	got := NewSynthesizer(nil).Answer(context.Background(), "q", []domain.Document{{Text: "ctx"}})
	if got != NoInformation {
		t.Errorf("Expected fallback, got %q", got)
	}
}

func TestBuildPromptDoesNotReexpandPlaceholders(t *testing.T) {
	p := BuildPrompt("what is {context}?", "literal {question}")
	if !strings.Contains(p, "Context:\nliteral {question}\n") {
		t.Errorf("Context substituted incorrectly: %q", p)
	}
	if !strings.Contains(p, "Question:\nwhat is {context}?\n") {
		t.Errorf("Question substituted incorrectly: %q", p)
	}
}
