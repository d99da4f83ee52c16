package step

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/provider/llm"
)

const soapPromptTemplate = `You are a clinical documentation assistant for a dental clinic.
Read the transcript of the consultation below and write a clinical note in SOAP format.

Rules:
- Use only facts stated in the transcript. Write "記載なし" for a section with no information.
- Answer in the language of the transcript.
- Output exactly one JSON object that satisfies this JSON Schema:
%s
- Put the JSON object between two %s markers and output nothing else.

Transcript:
%s`

// Generator produces text for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (llm.Completion, error)
}

// SoapGenerator turns transcript text into a validated SOAP note
type SoapGenerator struct {
	generator Generator
	logger    *slog.Logger
}

// NewSoapGenerator creates a new SoapGenerator instance
func NewSoapGenerator(generator Generator, logger *slog.Logger) *SoapGenerator {
	return &SoapGenerator{generator: generator, logger: logger}
}

// BuildPrompt renders the generation prompt for a transcript
func BuildPrompt(transcript string) string {
	return fmt.Sprintf(soapPromptTemplate, strings.TrimSpace(string(soapSchemaJSON)), JSONDelimiter, transcript)
}

// Generate calls the model once. Provider failures come back as
// ProviderError and unusable output as ParseError.
func (g *SoapGenerator) Generate(ctx context.Context, transcript string) (domain.SoapNote, error) {
	if strings.TrimSpace(transcript) == "" {
		return domain.SoapNote{}, domain.NewValidationError("empty transcription text", nil)
	}

	g.logger.Info("Generating SOAP note", slog.Int("transcript_length", len(transcript)))

	completion, err := g.generator.Generate(ctx, BuildPrompt(transcript))
	if err != nil {
		return domain.SoapNote{}, domain.NewProviderError("generation", err)
	}

	g.logger.Info("Generation completed",
		slog.Int("input_tokens", completion.Usage.PromptTokens),
		slog.Int("output_tokens", completion.Usage.CompletionTokens),
	)

	note, err := ParseModelOutput(completion.Text)
	if err != nil {
		g.logger.Error("Failed to parse model output",
			slog.String("error", err.Error()),
			slog.Int("output_length", len(completion.Text)),
		)
		return domain.SoapNote{}, err
	}
	return note, nil
}
