package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Synthetic keys written by the text decoders. They are also accepted aliases.
const (
	keyReasons  = "humanReadableReasons"
	keyFallback = "rawFallbackText"
)

// fields is the loosely typed mapping a decoder hands to the normalizer.
type fields map[string]any

var (
	errNotObject = errors.New("not a json object")
	errNotString = errors.New("not a json string")

	signedDecimal = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)
	proseBreak    = regexp.MustCompile(`(?:—|\n|\.+(?:\s+|$))+`)
)

// decode runs the decoder for shape. Every branch is total.
func (n *Normalizer) decode(raw any, shape Shape) fields {
	switch shape {
	case ShapeEmpty:
		return fields{}
	case ShapeNative:
		return n.decodeNative(raw)
	case ShapeJSONText:
		return n.decodeJSONText(rawText(raw))
	case ShapeDoubleEncodedJSON:
		return n.decodeDoubleEncoded(rawText(raw))
	case ShapeDelimitedMap:
		return decodeDelimitedMap(rawText(raw))
	case ShapeBracketedList:
		return decodeBracketedList(rawText(raw))
	case ShapeProse:
		return decodeProse(rawText(raw))
	case ShapeUnrecognized:
		return fields{keyFallback: rawText(raw)}
	default:
		n.log.WithField("shape", int(shape)).Debug("explanation shape has no decoder")
		return fields{}
	}
}

func rawText(raw any) string {
	text, _ := asText(raw)
	return text
}

func (n *Normalizer) decodeNative(raw any) fields {
	switch v := raw.(type) {
	case map[string]any:
		out := make(fields, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		n.log.WithError(err).Debug("explanation value is not serializable")
		return fields{keyFallback: fmt.Sprint(raw)}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fields{keyFallback: string(payload)}
	}
	switch v := decoded.(type) {
	case map[string]any:
		return fields(v)
	case []any:
		return fields{keyReasons: v}
	case nil:
		return fields{}
	case string:
		return fields{keyFallback: v}
	default:
		return fields{keyFallback: string(payload)}
	}
}

func (n *Normalizer) decodeJSONText(text string) fields {
	obj, repaired, err := parseObject(cleanText(text))
	if err != nil {
		n.log.WithError(err).WithField("shape", ShapeJSONText.String()).Debug("explanation json is not an object")
		return fields{keyFallback: text}
	}
	out := fields(obj)
	if repaired {
		// A repaired object may resolve nothing; keep the text it came from.
		if _, ok := out[keyFallback]; !ok {
			out[keyFallback] = text
		}
	}
	return out
}

// parseObject decodes s as a JSON object, falling back to repair. The bool reports
// whether the object came from jsonrepair.
func parseObject(s string) (map[string]any, bool, error) {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		if obj, ok := repairObject(s); ok {
			return obj, true, nil
		}
		return nil, false, fmt.Errorf("parse explanation json: %w", err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok || obj == nil {
		return nil, false, errNotObject
	}
	return obj, false, nil
}

func (n *Normalizer) decodeDoubleEncoded(text string) fields {
	inner, err := parseString(cleanText(text))
	if err != nil {
		n.log.WithError(err).Debug("double encoded explanation lost its outer layer")
		return decodeProse(text)
	}
	var parsed any
	if err := json.Unmarshal([]byte(cleanText(inner)), &parsed); err != nil {
		if looksDelimitedMap(cleanText(inner)) {
			return decodeDelimitedMap(inner)
		}
		n.log.WithError(err).WithField("shape", ShapeDoubleEncodedJSON.String()).Debug("inner explanation is not json; treating as prose")
		return decodeProse(inner)
	}
	switch v := parsed.(type) {
	case map[string]any:
		return fields(v)
	case []any:
		return fields{keyReasons: v}
	default:
		return decodeProse(inner)
	}
}

func parseString(s string) (string, error) {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return "", fmt.Errorf("parse outer json: %w", err)
	}
	inner, ok := parsed.(string)
	if !ok {
		return "", errNotString
	}
	return inner, nil
}

func decodeDelimitedMap(text string) fields {
	s := stripQuotes(cleanText(text))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}"))
	out := fields{}
	for _, segment := range splitTopLevel(s, ',') {
		idx := indexOutsideQuotes(segment, '=')
		if idx < 0 {
			continue
		}
		key := unquote(segment[:idx])
		if key == "" {
			continue
		}
		out[key] = coerceToken(segment[idx+1:])
	}
	return out
}

// coerceToken converts the value side of a key=value pair.
func coerceToken(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if isWrapped(trimmed, '[', ']') {
		return splitList(stripBrackets(trimmed))
	}
	value := unquote(trimmed)
	if signedDecimal.MatchString(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

func decodeBracketedList(text string) fields {
	return fields{keyReasons: splitList(stripBrackets(cleanText(text)))}
}

func decodeProse(text string) fields {
	reasons := []string{}
	for _, segment := range proseBreak.Split(text, -1) {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			reasons = append(reasons, trimmed)
		}
	}
	if len(reasons) == 0 {
		return fields{keyFallback: text}
	}
	return fields{keyReasons: reasons}
}
