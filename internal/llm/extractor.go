// Package llm – structured extractor.
//
// This file turns free chat text into a typed expense judgment. The provider
// response is modeled as an untrusted, loosely-structured payload: it is
// parsed defensively (including salvaging a JSON object embedded in chatty
// prose) and then semantically validated. Parse failures are transient and
// retried; validation failures are permanent and surfaced to the pipeline as
// "could not extract".
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-expense-backend/internal/domain"
)

// ExtractionResult is the transient outcome of one extraction call. It is
// produced fresh per message and never persisted. Amount and the other
// fields are only meaningful when IsExpense is true.
type ExtractionResult struct {
	IsExpense   bool
	Description string
	Amount      decimal.Decimal
	Category    string
}

// instructionTemplate is the fixed system instruction. %s receives the
// comma-separated category vocabulary.
const instructionTemplate = `You are an AI assistant specialized in analyzing messages to determine if they represent expenses and extracting relevant information.

Your task is to analyze the user's message and determine:
1. Is this message describing an expense? (not greetings, questions, or random chat)
2. If yes, extract: description, amount, and category

Valid categories: %s

Rules:
- Only mark as expense if there's a clear description and amount
- Ignore greetings like "hi", "hello", "bom dia", "oi", etc.
- Ignore questions or commands
- Amount should be a positive number
- If currency is mentioned (reais, R$, dollars, $), extract just the number
- Choose the most appropriate category from the list above
- If unclear, use "Other" as category

Respond with a single JSON object of the shape
{"is_expense": bool, "description": string|null, "amount": number|null, "category": string|null}.
Return valid JSON only, no additional text.`

// Instruction returns the system instruction with the category vocabulary
// interpolated.
func Instruction() string {
	cats := domain.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return fmt.Sprintf(instructionTemplate, strings.Join(names, ", "))
}

// Extractor drives the provider call with bounded retries and owns the
// parse-then-validate step. Safe for concurrent use.
type Extractor struct {
	Client ChatClient
	Policy RetryPolicy
}

// NewExtractor builds an extractor with the given provider client and retry
// bounds (attempts including the first try, base backoff delay).
func NewExtractor(client ChatClient, maxAttempts int, baseDelay time.Duration) *Extractor {
	return &Extractor{
		Client: client,
		Policy: RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay},
	}
}

// Extract classifies rawText and, when it is an expense, returns the
// description/amount/category triple. Errors are always *ExtractionError;
// the caller branches on IsTransient/IsPermanent.
//
// Retry covers the provider call and the parse step only: a response that
// parses but fails validation ends the loop immediately, since the mismatch
// is deterministic for a given input.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*ExtractionResult, error) {
	instruction := Instruction()

	res, err := RetryValue(ctx, e.Policy, IsTransient, func(ctx context.Context) (*ExtractionResult, error) {
		raw, err := e.Client.Complete(ctx, instruction, rawText)
		if err != nil {
			return nil, err
		}
		parsed, err := parseResponse(raw)
		if err != nil {
			log.Debug().Err(err).Str("raw", truncateForLog(raw)).Msg("provider response did not parse")
			return nil, transientErr(err)
		}
		return parsed, nil
	})
	if err != nil {
		var ee *ExtractionError
		if !errors.As(err, &ee) {
			// Context cancellation surfaces from the retry loop unwrapped.
			return nil, transientErr(err)
		}
		return nil, ee
	}

	if err := validate(res); err != nil {
		return nil, permanentErr(err)
	}
	return res, nil
}

// rawExtraction is the wire shape of the provider's JSON answer. Amount is
// kept raw so it can be parsed as an exact decimal, never a binary float.
type rawExtraction struct {
	IsExpense   bool            `json:"is_expense"`
	Description *string         `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Category    *string         `json:"category"`
}

// parseResponse decodes the provider text into an ExtractionResult. Models
// occasionally wrap the JSON in prose or fences, so a salvage pass extracts
// the outermost object before giving up.
func parseResponse(text string) (*ExtractionResult, error) {
	payload := strings.TrimSpace(text)
	var raw rawExtraction
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		salvaged, ok := salvageJSON(payload)
		if !ok {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(salvaged), &raw); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	out := &ExtractionResult{IsExpense: raw.IsExpense}
	if raw.Description != nil {
		out.Description = strings.TrimSpace(*raw.Description)
	}
	if raw.Category != nil {
		out.Category = strings.TrimSpace(*raw.Category)
	}
	if len(raw.Amount) > 0 && string(raw.Amount) != "null" {
		amt, err := parseAmount(string(raw.Amount))
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", raw.Amount, err)
		}
		out.Amount = amt
	}
	return out, nil
}

// salvageJSON extracts the substring between the first '{' and the last '}'.
func salvageJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// amountCruft strips quotes, currency symbols/words, and grouping separators
// the model sometimes leaves in ("R$ 1.234,56", "20 reais").
var amountCruft = regexp.MustCompile(`(?i)[" ]|r\$|us\$|\$|€|£|reais|real|dollars?|euros?`)

// parseAmount parses a JSON number or tolerant currency string into an exact
// decimal. It never routes through float64.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := amountCruft.ReplaceAllString(raw, "")
	// With both separators present, the later one is the decimal point:
	// "1.234,56" -> 1234.56 and "1,234.56" -> 1234.56.
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot != -1 && comma != -1 && dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	case dot != -1 && comma != -1:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case comma != -1:
		// Comma only. More than one comma, or a single comma with exactly
		// three digits after it ("1,234"), reads as thousands grouping;
		// otherwise the comma is the decimal point ("20,50").
		if strings.Count(s, ",") > 1 || len(s)-comma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Round(2), nil
}

// validate enforces the semantic contract on a parsed result. Failures here
// are permanent: the same input against the same instruction will fail the
// same way.
func validate(r *ExtractionResult) error {
	if !r.IsExpense {
		return nil
	}
	if r.Description == "" {
		return fmt.Errorf("expense without description")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	return nil
}

// truncateForLog caps provider payloads in debug logs.
func truncateForLog(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "…"
}
