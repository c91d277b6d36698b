package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"deserveiq/backend/internal/explain"
)

var (
	// ErrEmptyResponse is returned for an empty scoring reply.
	ErrEmptyResponse = errors.New("empty scoring response")
	// ErrScoringFailed wraps the error object the service returns when prediction fails.
	ErrScoringFailed = errors.New("scoring service reported an error")
)

// Response is a decoded scoring service reply. Explanation is left raw; it is
// normalized separately.
type Response struct {
	DropoutProbability *float64
	DeservingnessScore *float64
	RiskTier           string
	Explanation        any
}

// DecodeResponse decodes the scoring service envelope.
func DecodeResponse(body []byte) (Response, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Response{}, ErrEmptyResponse
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{}, fmt.Errorf("decode scoring response: %w", err)
	}
	if envelope == nil {
		return Response{}, fmt.Errorf("decode scoring response: %w", ErrEmptyResponse)
	}
	return FromMap(envelope)
}

// FromMap builds a Response from an already decoded envelope.
func FromMap(envelope map[string]any) (Response, error) {
	probability := number(envelope["dropout_probability"])
	if msg, ok := envelope["error"].(string); ok && probability == nil {
		if detail, ok := envelope["detail"].(string); ok && detail != "" {
			msg = msg + ": " + detail
		}
		return Response{}, fmt.Errorf("%w: %s", ErrScoringFailed, msg)
	}

	resp := Response{
		DropoutProbability: probability,
		DeservingnessScore: number(envelope["deservingness_score"]),
	}
	if tier, ok := envelope["risk_tier"].(string); ok {
		resp.RiskTier = NormalizeTier(tier)
	}
	if resp.RiskTier == "" {
		resp.RiskTier = TierFor(probability)
	}
	if resp.DeservingnessScore == nil && probability != nil {
		d := Deservingness(*probability)
		resp.DeservingnessScore = &d
	}
	if expl, ok := explain.ResolveField(envelope); ok {
		resp.Explanation = expl
	}
	return resp, nil
}

func number(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
