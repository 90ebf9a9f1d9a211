package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 503, Body: "overloaded"}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryDoStopsOnNonRetryableStatus(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 400, Body: "bad request"}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(3), func() (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	if err == nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryDoNotifiesHook(t *testing.T) {
	var attempts []int
	ctx := WithRetryHook(context.Background(), func(attempt, maxAttempts int, err error) {
		attempts = append(attempts, attempt)
	})
	calls := 0
	_, _ = RetryDo(ctx, fastRetry(3), func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 500, Body: "boom"}
	})
	if len(attempts) != 2 {
		t.Fatalf("hook fired %d times, want 2 (before each retry sleep)", len(attempts))
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if d := ParseRetryAfter("7"); d != 7*time.Second {
		t.Fatalf("got %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Fatalf("got %v", d)
	}
	if d := ParseRetryAfter("not-a-number"); d != 0 {
		t.Fatalf("got %v", d)
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	cases := map[int]bool{429: true, 500: true, 503: true, 408: true, 400: false, 401: false, 404: false}
	for status, want := range cases {
		e := &HTTPError{Status: status}
		if e.Retryable() != want {
			t.Errorf("Retryable(%d) = %v", status, !want)
		}
	}
}

func TestCleanSchemaForProviderStripsUnknownKeywords(t *testing.T) {
	schema := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"q": map[string]interface{}{"type": "string", "$id": "x"},
		},
	}
	cleaned := CleanSchemaForProvider("anthropic", schema)
	if _, ok := cleaned["$schema"]; ok {
		t.Fatal("$schema should be stripped")
	}
	props := cleaned["properties"].(map[string]interface{})
	q := props["q"].(map[string]interface{})
	if _, ok := q["$id"]; ok {
		t.Fatal("nested $id should be stripped")
	}
	if _, ok := schema["$schema"]; !ok {
		t.Fatal("input schema must not be mutated")
	}
}
