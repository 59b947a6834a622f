package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// ----- Fake provider -----

// scriptedClient returns canned responses (or errors) in order, recording
// how many calls it served.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, instruction, message string) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", transientErr(fmt.Errorf("script exhausted"))
}

// fastExtractor retries without real sleeping.
func fastExtractor(c ChatClient, attempts int) *Extractor {
	return NewExtractor(c, attempts, time.Millisecond)
}

// ----- Tests -----

func TestInstruction_ContainsVocabulary(t *testing.T) {
	instr := Instruction()
	for _, want := range []string{"Housing", "Medical/Healthcare", "Other", "valid JSON only"} {
		if !strings.Contains(instr, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
}

func TestExtract_HappyPath(t *testing.T) {
	c := &scriptedClient{responses: []string{
		`{"is_expense": true, "description": "Pizza", "amount": 20.00, "category": "Food"}`,
	}}
	res, err := fastExtractor(c, 3).Extract(context.Background(), "Pizza 20 reais")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.IsExpense || res.Description != "Pizza" || res.Category != "Food" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Amount.StringFixed(2) != "20.00" {
		t.Fatalf("amount = %s; want 20.00", res.Amount)
	}
	if c.calls != 1 {
		t.Fatalf("provider calls = %d; want 1", c.calls)
	}
}

func TestExtract_NotAnExpense(t *testing.T) {
	c := &scriptedClient{responses: []string{`{"is_expense": false}`}}
	res, err := fastExtractor(c, 3).Extract(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.IsExpense {
		t.Fatalf("greeting classified as expense: %+v", res)
	}
}

func TestExtract_RetriesTransientThenSucceeds(t *testing.T) {
	c := &scriptedClient{
		errs: []error{
			transientErr(errors.New("rate limited")),
			transientErr(errors.New("timeout")),
		},
		responses: []string{
			"", "",
			`{"is_expense": true, "description": "Bus", "amount": 5, "category": "Transportation"}`,
		},
	}
	res, err := fastExtractor(c, 3).Extract(context.Background(), "Bus 5")
	if err != nil {
		t.Fatalf("third attempt should have succeeded: %v", err)
	}
	if c.calls != 3 {
		t.Fatalf("provider calls = %d; want 3", c.calls)
	}
	if res.Description != "Bus" || res.Amount.String() != "5" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtract_ExhaustsRetries(t *testing.T) {
	boom := transientErr(errors.New("connection reset"))
	c := &scriptedClient{errs: []error{boom, boom, boom}}

	_, err := fastExtractor(c, 3).Extract(context.Background(), "Pizza 20")
	if !IsTransient(err) {
		t.Fatalf("err = %v; want transient", err)
	}
	if c.calls != 3 {
		t.Fatalf("provider calls = %d; want exactly 3", c.calls)
	}
}

func TestExtract_MalformedResponseIsRetried(t *testing.T) {
	c := &scriptedClient{responses: []string{
		"I think this is an expense!",
		`{"is_expense": true, "description": "Pizza", "amount": 20, "category": "Food"}`,
	}}
	res, err := fastExtractor(c, 3).Extract(context.Background(), "Pizza 20")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if c.calls != 2 {
		t.Fatalf("provider calls = %d; want 2 (parse failure retried)", c.calls)
	}
	if res.Description != "Pizza" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtract_ValidationFailureIsPermanentAndNotRetried(t *testing.T) {
	cases := []string{
		`{"is_expense": true, "description": "Pizza", "amount": -5, "category": "Food"}`,
		`{"is_expense": true, "description": "", "amount": 20, "category": "Food"}`,
		`{"is_expense": true, "description": "Pizza", "amount": 0, "category": "Food"}`,
	}
	for _, resp := range cases {
		c := &scriptedClient{responses: []string{resp, resp, resp}}
		_, err := fastExtractor(c, 3).Extract(context.Background(), "whatever")
		if !IsPermanent(err) {
			t.Errorf("response %s: err = %v; want permanent", resp, err)
		}
		if c.calls != 1 {
			t.Errorf("response %s: provider calls = %d; want 1 (no retry)", resp, c.calls)
		}
	}
}

func TestExtract_SalvagesEmbeddedJSON(t *testing.T) {
	c := &scriptedClient{responses: []string{
		"Sure! Here is the JSON you asked for:\n```json\n" +
			`{"is_expense": true, "description": "Cinema", "amount": "30,50", "category": "Entertainment"}` +
			"\n```",
	}}
	res, err := fastExtractor(c, 1).Extract(context.Background(), "Cinema 30,50")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Amount.StringFixed(2) != "30.50" {
		t.Fatalf("amount = %s; want 30.50", res.Amount)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		`20`:          "20.00",
		`20.5`:        "20.50",
		`"20,50"`:     "20.50",
		`"1.234,56"`:  "1234.56",
		`"1,234.56"`:  "1234.56",
		// A lone comma with a three-digit group is thousands, not a decimal.
		`"1,234"`:     "1234.00",
		`"1,234,567"`: "1234567.00",
		`"1,2"`:       "1.20",
		`"R$ 99,90"`:  "99.90",
		`"20 reais"`:  "20.00",
		`"$15.75"`:    "15.75",
		`"10 dollars"`: "10.00",
	}
	for in, want := range cases {
		d, err := parseAmount(in)
		if err != nil {
			t.Errorf("parseAmount(%s): %v", in, err)
			continue
		}
		if d.StringFixed(2) != want {
			t.Errorf("parseAmount(%s) = %s; want %s", in, d.StringFixed(2), want)
		}
	}

	for _, in := range []string{`""`, `"abc"`, `"--"`} {
		if _, err := parseAmount(in); err == nil {
			t.Errorf("parseAmount(%s) should fail", in)
		}
	}
}

func TestExtract_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	boom := transientErr(errors.New("slow upstream"))
	c := &scriptedClient{errs: []error{boom, boom, boom}}

	_, err := fastExtractor(c, 3).Extract(ctx, "Pizza 20")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if c.calls > 1 {
		t.Fatalf("provider calls = %d; want at most 1 after cancel", c.calls)
	}
}
