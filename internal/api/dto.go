package api

import (
	"encoding/json"
	"time"

	"deserveiq/backend/internal/explain"
	"deserveiq/backend/internal/store"
)

// NormalizeResponse is the canonical explanation along with the shape it came in.
type NormalizeResponse struct {
	Explanation explain.Explanation `json:"explanation"`
	Shape       string              `json:"shape"`
}

// BatchNormalizeRequest carries raw explanations to normalize in one call.
type BatchNormalizeRequest struct {
	Items []json.RawMessage `json:"items"`
}

// BatchNormalizeResponse holds results in request order.
type BatchNormalizeResponse struct {
	Items        []NormalizeResponse `json:"items"`
	Total        int                 `json:"total"`
	Unstructured int                 `json:"unstructured"`
}

// IngestRequest stores a scoring service reply for a student.
type IngestRequest struct {
	StudentName string          `json:"student_name"`
	District    string          `json:"district"`
	Response    json.RawMessage `json:"response"`
}

// PredictionDTO is the API representation for a persisted prediction.
type PredictionDTO struct {
	ID                 string              `json:"id"`
	StudentName        string              `json:"student_name"`
	District           string              `json:"district"`
	DropoutProbability *float64            `json:"dropout_probability"`
	DeservingnessScore *float64            `json:"deservingness_score"`
	RiskTier           string              `json:"risk_tier"`
	Explanation        explain.Explanation `json:"explanation"`
	ExplanationShape   string              `json:"explanation_shape"`
	Unstructured       bool                `json:"unstructured"`
	CreatedAt          time.Time           `json:"created_at"`
}

// PredictionsResponse holds a page of predictions and the filtered total.
type PredictionsResponse struct {
	Items []PredictionDTO `json:"items"`
	Total int64           `json:"total"`
}

// ShapeStatsResponse reports stored predictions per explanation shape.
type ShapeStatsResponse struct {
	Items []store.ShapeCount `json:"items"`
	Total int64              `json:"total"`
}

// RenormalizeStatusResponse summarises the renormalize job.
type RenormalizeStatusResponse struct {
	Running    bool             `json:"running"`
	JobID      string           `json:"job_id,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	LastStatus *PredictionEvent `json:"last_status,omitempty"`
}

// PredictionFromModel converts a store prediction into its DTO.
func PredictionFromModel(p store.Prediction) PredictionDTO {
	return PredictionDTO{
		ID:                 p.RequestID,
		StudentName:        p.StudentName,
		District:           p.District,
		DropoutProbability: p.DropoutProbability,
		DeservingnessScore: p.DeservingnessScore,
		RiskTier:           p.RiskTier,
		Explanation:        p.Explanation(),
		ExplanationShape:   p.Shape().String(),
		Unstructured:       p.Unstructured,
		CreatedAt:          p.CreatedAt,
	}
}
