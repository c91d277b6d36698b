package scoring

import (
	"errors"
	"testing"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name     string
		p        *float64
		expected string
	}{
		{"missing", nil, TierUnknown},
		{"high boundary", ptr(0.7), TierHigh},
		{"high", ptr(0.93), TierHigh},
		{"medium boundary", ptr(0.4), TierMedium},
		{"low", ptr(0.39), TierLow},
		{"zero", ptr(0), TierLow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TierFor(tc.p); got != tc.expected {
				t.Fatalf("expected %s got %s", tc.expected, got)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		probability   *float64
		deservingness *float64
		tier          string
		explanation   bool
	}{
		{
			name:          "full reply",
			body:          `{"dropout_probability":0.62,"deservingness_score":38,"risk_tier":"medium","explanation":{"model_probability":0.6}}`,
			probability:   ptr(0.62),
			deservingness: ptr(38),
			tier:          TierMedium,
			explanation:   true,
		},
		{
			name:          "derived tier and deservingness",
			body:          `{"dropout_probability":0.25,"risk_tier":"n/a","explanation_json":"{model_probability=0.2}"}`,
			probability:   ptr(0.25),
			deservingness: ptr(75),
			tier:          TierLow,
			explanation:   true,
		},
		{
			name: "missing probability stays missing",
			body: `{"explanation":null}`,
			tier: TierUnknown,
		},
		{
			name:          "zero probability",
			body:          `{"dropout_probability":0}`,
			probability:   ptr(0),
			deservingness: ptr(100),
			tier:          TierLow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			assertFloat(t, "probability", resp.DropoutProbability, tc.probability)
			assertFloat(t, "deservingness", resp.DeservingnessScore, tc.deservingness)
			if resp.RiskTier != tc.tier {
				t.Fatalf("expected tier %s got %s", tc.tier, resp.RiskTier)
			}
			if (resp.Explanation != nil) != tc.explanation {
				t.Fatalf("expected explanation present=%v got %#v", tc.explanation, resp.Explanation)
			}
		})
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	if _, err := DecodeResponse([]byte("  ")); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse got %v", err)
	}
	if _, err := DecodeResponse([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object body")
	}
	_, err := DecodeResponse([]byte(`{"error":"Model prediction failed","detail":"bad input"}`))
	if !errors.Is(err, ErrScoringFailed) {
		t.Fatalf("expected ErrScoringFailed got %v", err)
	}
}

func ptr(v float64) *float64 { return &v }

func assertFloat(t *testing.T, label string, got, want *float64) {
	t.Helper()
	if want == nil {
		if got != nil {
			t.Fatalf("%s: expected nil got %v", label, *got)
		}
		return
	}
	if got == nil || *got != *want {
		t.Fatalf("%s: expected %v got %v", label, *want, got)
	}
}
