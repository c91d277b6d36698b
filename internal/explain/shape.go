package explain

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Shape identifies the serialization an explanation arrived in.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeNative
	ShapeJSONText
	ShapeDoubleEncodedJSON
	ShapeDelimitedMap
	ShapeBracketedList
	ShapeProse
	ShapeUnrecognized
)

// Shapes lists every shape in declaration order.
var Shapes = []Shape{
	ShapeEmpty,
	ShapeNative,
	ShapeJSONText,
	ShapeDoubleEncodedJSON,
	ShapeDelimitedMap,
	ShapeBracketedList,
	ShapeProse,
	ShapeUnrecognized,
}

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeNative:
		return "native"
	case ShapeJSONText:
		return "json_text"
	case ShapeDoubleEncodedJSON:
		return "double_encoded_json"
	case ShapeDelimitedMap:
		return "delimited_map_text"
	case ShapeBracketedList:
		return "bracketed_list_text"
	case ShapeProse:
		return "prose_text"
	case ShapeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// ParseShape maps a shape name back to its Shape.
func ParseShape(name string) (Shape, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range Shapes {
		if s.String() == name {
			return s, true
		}
	}
	return ShapeUnrecognized, false
}

// Detect classifies raw without modifying it.
func Detect(raw any) Shape {
	text, isText := asText(raw)
	if !isText {
		if isNil(raw) {
			return ShapeEmpty
		}
		return ShapeNative
	}
	return detectText(text)
}

func detectText(text string) Shape {
	s := cleanText(text)
	if s == "" {
		return ShapeEmpty
	}

	var parsed any
	parsedArray := false
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		switch parsed.(type) {
		case string:
			return ShapeDoubleEncodedJSON
		case []any:
			parsedArray = true
		default:
			return ShapeJSONText
		}
	} else if looksDelimitedMap(s) {
		return ShapeDelimitedMap
	} else if _, ok := repairObject(s); ok {
		return ShapeJSONText
	}

	if parsedArray || (isWrapped(s, '[', ']') && strings.Contains(s, ",")) {
		return ShapeBracketedList
	}
	if hasSentenceBreak(s) {
		return ShapeProse
	}
	return ShapeUnrecognized
}

// asText reports whether raw is one of the textual representations.
func asText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case json.RawMessage:
		return string(v), true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

func isNil(raw any) bool {
	if raw == nil {
		return true
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// cleanText trims the text and drops one surrounding markdown code fence.
func cleanText(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		trimmed = ""
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// repairObject rescues object literals that are almost JSON, such as python dict
// reprs. Only text shaped like {...} with a key separator is attempted.
func repairObject(s string) (map[string]any, bool) {
	if !isWrapped(s, '{', '}') || indexOutsideQuotes(s, ':') < 0 {
		return nil, false
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(repaired), &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// looksDelimitedMap reports whether s is {k=v, ...} text. Every pair must use = as
// its separator; a colon may still appear inside a value.
func looksDelimitedMap(s string) bool {
	inner := stripQuotes(s)
	if !isWrapped(inner, '{', '}') {
		return false
	}
	pairs := 0
	for _, segment := range splitTopLevel(inner[1:len(inner)-1], ',') {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		eq := indexOutsideQuotes(segment, '=')
		if eq < 0 {
			return false
		}
		if colon := indexOutsideQuotes(segment, ':'); colon >= 0 && colon < eq {
			return false
		}
		pairs++
	}
	return pairs > 0
}

func isWrapped(s string, open, close byte) bool {
	return len(s) >= 2 && s[0] == open && s[len(s)-1] == close
}

func hasSentenceBreak(s string) bool {
	if strings.ContainsAny(s, "\n—") {
		return true
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		end := i
		for end+1 < len(s) && s[end+1] == '.' {
			end++
		}
		if isSentenceEnd(s, end) {
			return true
		}
		i = end
	}
	return false
}

// isSentenceEnd reports whether the period run ending at i closes a sentence rather
// than sitting inside a number or an identifier.
func isSentenceEnd(s string, i int) bool {
	return i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\t' || s[i+1] == '\r' || s[i+1] == '\n'
}
