package explain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Observer receives the outcome of every normalization.
type Observer interface {
	Observe(shape Shape, result Explanation)
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger routes degradation messages to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(n *Normalizer) {
		if log != nil {
			n.log = log
		}
	}
}

// WithObserver registers an observer called after each normalization.
func WithObserver(obs Observer) Option {
	return func(n *Normalizer) {
		n.observer = obs
	}
}

// Normalizer converts raw explanation values into Explanation records. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	log      logrus.FieldLogger
	observer Observer
}

// New constructs a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Normalize converts raw using the default normalizer.
func Normalize(raw any) Explanation {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts raw into its canonical Explanation. It never fails.
func (n *Normalizer) Normalize(raw any) Explanation {
	result, _ := n.NormalizeShape(raw)
	return result
}

// NormalizeShape is Normalize that also reports the detected shape.
func (n *Normalizer) NormalizeShape(raw any) (result Explanation, shape Shape) {
	shape = ShapeUnrecognized
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("panic", r).WithField("shape", shape.String()).Warn("explanation normalization recovered")
			result = fallbackExplanation(fmt.Sprint(raw))
		}
		if n.observer != nil {
			n.observer.Observe(shape, result)
		}
	}()

	shape = Detect(raw)
	result = n.assemble(n.decode(raw, shape))
	if result.Unstructured() {
		n.log.WithField("shape", shape.String()).Debug("explanation kept as raw text")
	}
	return result, shape
}

var (
	finalProbabilityAliases = []string{"final_probability_used", "finalProbabilityUsed", "final_probability", "finalProbability"}
	modelProbabilityAliases = []string{"model_probability", "modelProbability", "model_prob"}
	ruleProbabilityAliases  = []string{"rule_probability", "ruleProbability", "rule_prob"}
	topFeatureAliases       = []string{"global_top_model_features", "top_model_features", "topModelFeatures", "top_features", "global_top_model_feature", "model_top_reason_features"}
	reasonAliases           = []string{"human_readable_reasons", keyReasons, "reasons", "human_readable_reason", "top_rule_reasons", "rule_reasons"}
	fallbackAliases         = []string{"raw_fallback_text", keyFallback, "raw"}
)

func (n *Normalizer) assemble(f fields) Explanation {
	out := emptyExplanation()
	out.FinalProbabilityUsed = toProbability(lookup(f, finalProbabilityAliases))
	out.ModelProbability = toProbability(lookup(f, modelProbabilityAliases))
	out.RuleProbability = toProbability(lookup(f, ruleProbabilityAliases))
	out.TopModelFeatures = listify(lookup(f, topFeatureAliases))
	out.HumanReadableReasons = listify(lookup(f, reasonAliases))

	if out.HasStructure() {
		return out
	}
	if text, ok := fallbackText(lookup(f, fallbackAliases)); ok {
		return fallbackExplanation(text)
	}
	return out
}

func fallbackExplanation(text string) Explanation {
	out := emptyExplanation()
	text = validText(text)
	out.RawFallbackText = &text
	return out
}

// validText replaces invalid UTF-8 so the text survives a JSON round trip unchanged.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func fallbackText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

// lookup returns the first present value among aliases.
func lookup(f fields, aliases []string) any {
	for _, alias := range aliases {
		if v, ok := f[alias]; ok && present(v) {
			return v
		}
	}
	return nil
}

// present follows falsy semantics except that the number zero is a value.
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

// toProbability coerces v into a probability in [0,1], or nil.
func toProbability(v any) *float64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseNumber(t)
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	s = unquote(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

// listify coerces v into an ordered list of non-empty strings.
func listify(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
	case []string:
		for _, item := range t {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out = append(out, validText(trimmed))
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := scalarString(item); ok {
				out = append(out, validText(s))
			}
		}
	case string:
		for _, item := range splitList(stripBrackets(t)) {
			out = append(out, validText(item))
		}
	case bool:
		if t {
			out = append(out, "true")
		}
	default:
		if s, ok := scalarString(t); ok {
			out = append(out, validText(s))
		}
	}
	return out
}

// scalarString renders list elements; nested objects and lists are skipped.
func scalarString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		s = fmt.Sprint(t)
	default:
		return "", false
	}
	return s, s != ""
}
