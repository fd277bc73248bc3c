package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// structuredInstruction is appended to every structured prompt.
const structuredInstruction = "\n\nReturn exactly one JSON object. " +
	"No markdown code fences. No prose before or after the JSON."

// Sender issues one logical text-generation request.
type Sender interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// Extractor asks a backend for structured output and validates the result,
// re-prompting with the specific violation when the output is malformed.
type Extractor struct {
	sender Sender
	rounds int
	logger *slog.Logger
}

// NewExtractor creates an Extractor. rounds bounds the corrective re-prompt
// attempts per call.
func NewExtractor(sender Sender, rounds int, logger *slog.Logger) *Extractor {
	if rounds < 1 {
		rounds = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{sender: sender, rounds: rounds, logger: logger}
}

// AskStructured requests a structured payload. Malformed output never
// surfaces as an error: after the corrective rounds are spent the call
// returns (nil, nil), a deliberate soft failure so one bad generation never
// aborts the loop. The only error returned is a dispatcher failure, which
// includes retry-budget exhaustion.
func (e *Extractor) AskStructured(ctx context.Context, prompt string) (*Payload, error) {
	attempt := prompt + structuredInstruction

	for round := 0; round < e.rounds; round++ {
		raw, err := e.sender.Send(ctx, attempt)
		if err != nil {
			return nil, err
		}

		candidate := ExtractJSON(raw)
		if candidate == "" {
			e.logger.Warn("No JSON object in backend response, re-prompting")
			attempt = correctivePrompt(prompt, "no JSON object was found in the output")
			continue
		}

		payload, err := ParsePayload([]byte(candidate))
		if err != nil {
			e.logger.Warn("Structured payload rejected", "reason", err)
			attempt = correctivePrompt(prompt, err.Error())
			continue
		}

		return payload, nil
	}

	e.logger.Warn("Structured output still invalid after corrective rounds", "rounds", e.rounds)
	return nil, nil
}

// correctivePrompt rebuilds the prompt with the specific violation so the
// backend can fix its previous output.
func correctivePrompt(original, violation string) string {
	return fmt.Sprintf("%s\n\nYour previous output was invalid: %s\n"+
		"Requirements for the retry:\n"+
		"- Return exactly one JSON object\n"+
		"- No markdown code fences\n"+
		"- No explanation before or after the JSON\n",
		original, violation) + structuredInstruction
}
