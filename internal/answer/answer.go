// Package answer turns retrieved context into a grounded answer.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashureev/contextqa/internal/domain"
)

const (
	// NoInformation is returned when retrieval found nothing or the model failed.
	NoInformation = "No relevant information was found in the provided content."

	// NotInContent is the sentence the model is told to use when the context lacks the answer.
	NotInContent = "The provided content does not contain this information."

	contextSeparator = "\n\n"
)

// SystemPrompt frames the model as a strict context-bound assistant.
const SystemPrompt = "You are a precise assistant that answers questions using only the supplied content."

const promptTemplate = `You are an AI assistant that answers questions using ONLY the provided context.

Rules:
1. Use ONLY the information from the context.
2. If the answer is not present, reply exactly: "` + NotInContent + `"
3. Do NOT guess or invent information.
4. Keep answers short, precise and factual.
5. Never mention vector search, chunks, embeddings, retrieval or RAG.

Context:
{context}

Question:
{question}

Provide the best possible answer:`

// Model is a text completion service.
type Model interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Synthesizer answers questions from retrieved documents. Model failures
// never reach the caller; they become NoInformation and are logged.
type Synthesizer struct {
	model Model
}

// NewSynthesizer creates a synthesizer. A nil model makes every non-empty
// context fall back to NoInformation.
func NewSynthesizer(model Model) *Synthesizer {
	return &Synthesizer{model: model}
}

// FormatContext joins document texts in retrieval order.
func FormatContext(docs []domain.Document) string {
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	return strings.Join(texts, contextSeparator)
}

// BuildPrompt fills the instruction template.
func BuildPrompt(question, contextText string) string {
	return strings.NewReplacer("{context}", contextText, "{question}", question).Replace(promptTemplate)
}

// Answer answers question from docs.
func (s *Synthesizer) Answer(ctx context.Context, question string, docs []domain.Document) string {
	return s.AnswerContext(ctx, question, FormatContext(docs))
}

// AnswerContext answers question from an already formatted context string.
func (s *Synthesizer) AnswerContext(ctx context.Context, question, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return NoInformation
	}
	if s.model == nil {
		slog.Warn("Answer fallback", "error", errors.New("no language model configured"))
		return NoInformation
	}

	reply, err := s.model.Complete(ctx, SystemPrompt, BuildPrompt(question, contextText))
	if err != nil {
		slog.Error("Language model call failed, returning fallback answer", "error", err)
		return NoInformation
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		slog.Warn("Language model returned an empty answer, returning fallback answer")
		return NoInformation
	}
	return reply
}
