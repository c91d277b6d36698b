package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"deserveiq/backend/internal/explain"
	"deserveiq/backend/internal/store"
	"deserveiq/backend/internal/util"
)

const (
	eventStarted   = "started"
	eventProgress  = "progress"
	eventCompleted = "completed"
	eventCancelled = "cancelled"
	eventError     = "error"

	renormalizeBatchSize = 250
)

var errRenormalizeRunning = errors.New("renormalize already running")

// renormalizeJob tracks a run that rebuilds stored explanations from their raw text.
type renormalizeJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int64
	done      chan struct{}
}

// startRenormalize launches the job. The caller must hold s.jobMu.
func (s *Server) startRenormalize() (*renormalizeJob, error) {
	if s.activeJob != nil {
		return nil, errRenormalizeRunning
	}
	total, err := s.db.CountPredictions()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &renormalizeJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     total,
		done:      make(chan struct{}),
	}
	s.activeJob = job
	go s.runRenormalize(ctx, job)
	return job, nil
}

// cancelRenormalize aborts the active job if present. The caller must hold s.jobMu.
func (s *Server) cancelRenormalize() {
	if s.activeJob == nil {
		return
	}
	s.activeJob.cancel()
}

func (s *Server) runRenormalize(ctx context.Context, job *renormalizeJob) {
	// Unobserved: replays do not count toward the shape metrics.
	replayer := explain.New(explain.WithLogger(logrus.StandardLogger()))
	processed, changed := 0, 0
	timer := util.StartTimer()

	defer func() {
		job.cancel()
		s.jobMu.Lock()
		if s.activeJob == job {
			s.activeJob = nil
		}
		s.jobMu.Unlock()
		close(job.done)
	}()

	s.notifier.Broadcast(PredictionEvent{Type: eventStarted, JobID: job.id, Total: job.total})
	logrus.WithFields(logrus.Fields{"job": job.id, "total": job.total}).Info("renormalize started")

	err := s.db.EachPredictionBatch(renormalizeBatchSize, func(rows []store.Prediction) error {
		raws := make([]any, len(rows))
		for i := range rows {
			raws[i] = rows[i].RawValue()
		}
		results, err := replayer.NormalizeAll(ctx, raws, s.workers)
		if err != nil {
			return err
		}
		dirty := make([]store.Prediction, 0, len(rows))
		for i, res := range results {
			before := rows[i].ExplanationJSON + "|" + rows[i].ExplanationShape
			rows[i].ApplyExplanation(res.Explanation, res.Shape)
			if rows[i].ExplanationJSON+"|"+rows[i].ExplanationShape != before {
				dirty = append(dirty, rows[i])
			}
		}
		if err := s.db.UpdateExplanations(dirty); err != nil {
			return err
		}
		processed += len(rows)
		changed += len(dirty)
		s.notifier.Broadcast(PredictionEvent{
			Type:      eventProgress,
			JobID:     job.id,
			Total:     job.total,
			Processed: processed,
			Changed:   changed,
		})
		return nil
	})

	fields := logrus.Fields{"job": job.id, "processed": processed, "changed": changed, "duration_ms": timer.ElapsedMs()}
	switch {
	case errors.Is(err, context.Canceled):
		s.notifier.Broadcast(PredictionEvent{Type: eventCancelled, JobID: job.id, Total: job.total, Processed: processed, Changed: changed})
		logrus.WithFields(fields).Info("renormalize cancelled")
	case err != nil:
		s.notifier.Broadcast(PredictionEvent{Type: eventError, JobID: job.id, Processed: processed, Message: err.Error()})
		logrus.WithError(err).WithFields(fields).Error("renormalize failed")
	default:
		s.notifier.Broadcast(PredictionEvent{Type: eventCompleted, JobID: job.id, Total: job.total, Processed: processed, Changed: changed})
		logrus.WithFields(fields).Info("renormalize completed")
	}
}

func (s *Server) handleRenormalize(c *gin.Context) {
	s.jobMu.Lock()
	job, err := s.startRenormalize()
	s.jobMu.Unlock()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errRenormalizeRunning) {
			status = http.StatusConflict
		}
		s.renderError(c, status, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.id,
		"total":      job.total,
		"started_at": job.startedAt,
	})
}

func (s *Server) handleRenormalizeStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	resp := RenormalizeStatusResponse{LastStatus: s.notifier.LastStatus()}
	if job != nil {
		started := job.startedAt
		resp.Running = true
		resp.JobID = job.id
		resp.StartedAt = &started
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelRenormalize(c *gin.Context) {
	jobID := c.Param("jobID")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil || s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("no running renormalize job with that id"))
		return
	}
	s.cancelRenormalize()
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "cancelling"})
}
