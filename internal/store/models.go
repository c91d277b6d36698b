package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deserveiq/backend/internal/explain"
)

// Prediction is a scored student together with the explanation the service returned.
type Prediction struct {
	ID                 uint   `gorm:"primaryKey"`
	RequestID          string `gorm:"size:36;uniqueIndex"`
	StudentName        string `gorm:"size:255;index"`
	District           string `gorm:"size:128;index"`
	DropoutProbability *float64
	DeservingnessScore *float64
	RiskTier           string    `gorm:"size:16;index"`
	ExplanationRaw     string    `gorm:"type:text"`
	ExplanationShape   string    `gorm:"size:32;index"`
	ExplanationJSON    string    `gorm:"type:text"`
	Unstructured       bool      `gorm:"index"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time
}

// SetExplanation stores the raw value as received next to its canonical form.
func (p *Prediction) SetExplanation(raw any, e explain.Explanation, shape explain.Shape) {
	p.ExplanationRaw = rawString(raw)
	p.ApplyExplanation(e, shape)
}

// ApplyExplanation replaces the canonical columns and leaves the raw text alone.
func (p *Prediction) ApplyExplanation(e explain.Explanation, shape explain.Shape) {
	p.ExplanationShape = shape.String()
	p.Unstructured = e.Unstructured()
	payload, err := json.Marshal(e)
	if err != nil {
		p.ExplanationJSON = ""
		return
	}
	p.ExplanationJSON = string(payload)
}

// Explanation returns the canonical explanation. A missing or unreadable canonical
// column is rebuilt from the raw one.
func (p *Prediction) Explanation() explain.Explanation {
	if strings.TrimSpace(p.ExplanationJSON) != "" {
		var stored map[string]any
		if err := json.Unmarshal([]byte(p.ExplanationJSON), &stored); err == nil && stored != nil {
			return explain.Normalize(stored)
		}
	}
	return explain.Normalize(p.RawValue())
}

// RawValue returns the explanation as it was received. Values that arrived as
// structured JSON are decoded again so they keep their native shape.
func (p *Prediction) RawValue() any {
	if p.ExplanationRaw == "" {
		return nil
	}
	if p.ExplanationShape == explain.ShapeNative.String() {
		var decoded any
		if err := json.Unmarshal([]byte(p.ExplanationRaw), &decoded); err == nil {
			return decoded
		}
	}
	return p.ExplanationRaw
}

// Shape returns the stored shape, or unrecognized for legacy rows.
func (p *Prediction) Shape() explain.Shape {
	shape, _ := explain.ParseShape(p.ExplanationShape)
	return shape
}

func rawString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(payload)
}
