package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"deserveiq/backend/internal/scoring"
	"deserveiq/backend/internal/store"
)

const eventPrediction = "prediction"

func (s *Server) handleCreatePrediction(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid prediction payload: %w", err))
		return
	}
	if strings.TrimSpace(req.StudentName) == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("student_name required"))
		return
	}
	body := bytes.TrimSpace(req.Response)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		s.renderError(c, http.StatusBadRequest, errors.New("response required"))
		return
	}

	resp, err := scoring.DecodeResponse(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scoring.ErrScoringFailed) {
			status = http.StatusUnprocessableEntity
		}
		s.renderError(c, status, err)
		return
	}

	explanation, shape := s.normalizer.NormalizeShape(resp.Explanation)
	prediction := &store.Prediction{
		RequestID:          uuid.NewString(),
		StudentName:        req.StudentName,
		District:           req.District,
		DropoutProbability: resp.DropoutProbability,
		DeservingnessScore: resp.DeservingnessScore,
		RiskTier:           resp.RiskTier,
	}
	prediction.SetExplanation(resp.Explanation, explanation, shape)
	if err := s.db.SavePrediction(prediction); err != nil {
		logrus.WithError(err).WithField("request_id", prediction.RequestID).Error("save prediction")
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncrementIngested(prediction.RiskTier)

	dto := PredictionFromModel(*prediction)
	s.notifier.Broadcast(PredictionEvent{Type: eventPrediction, Prediction: &dto})
	logrus.WithFields(logrus.Fields{
		"request_id":   prediction.RequestID,
		"risk_tier":    prediction.RiskTier,
		"shape":        prediction.ExplanationShape,
		"unstructured": prediction.Unstructured,
	}).Info("prediction stored")
	c.JSON(http.StatusCreated, dto)
}

func (s *Server) handleListPredictions(c *gin.Context) {
	offset, limit := parsePaging(c, 100)
	rows, total, err := s.db.ListPredictions(store.PredictionQuery{
		Query:    strings.TrimSpace(c.Query("q")),
		RiskTier: strings.TrimSpace(firstNonEmpty(c.Query("riskTier"), c.Query("risk_tier"))),
		Shape:    strings.TrimSpace(c.Query("shape")),
		Sort:     strings.TrimSpace(c.Query("sort")),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]PredictionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, PredictionFromModel(row))
	}
	c.JSON(http.StatusOK, PredictionsResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetPrediction(c *gin.Context) {
	prediction, err := s.db.GetPrediction(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("prediction %s not found", c.Param("id")))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, PredictionFromModel(*prediction))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
