package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"deserveiq/backend/internal/explain"
	"deserveiq/backend/internal/metrics"
	"deserveiq/backend/internal/store"
	"deserveiq/backend/internal/util"
)

const (
	defaultWorkers    = 4
	defaultBatchLimit = 500
	maxBodyBytes      = 8 << 20
)

// Config defines server dependencies.
type Config struct {
	DBPath         string
	AllowedOrigins []string
	SilentDB       bool
	Workers        int
	BatchLimit     int
}

// Server wires HTTP handlers with persistence and normalization.
type Server struct {
	db             *store.Database
	normalizer     *explain.Normalizer
	metrics        *metrics.Metrics
	allowedOrigins []string
	workers        int
	batchLimit     int
	notifier       *PredictionNotifier
	jobMu          sync.Mutex
	activeJob      *renormalizeJob
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}

	m := metrics.New()
	server := &Server{
		db:             db,
		normalizer:     explain.New(explain.WithLogger(logrus.StandardLogger()), explain.WithObserver(m)),
		metrics:        m,
		allowedOrigins: cfg.AllowedOrigins,
		workers:        workers,
		batchLimit:     batchLimit,
		notifier:       NewPredictionNotifier(),
	}
	logrus.WithFields(logrus.Fields{
		"workers":     workers,
		"batch_limit": batchLimit,
	}).Info("explanation normalizer ready")
	return server, nil
}

// Close cancels any running job, waits for it to stop and closes the database.
func (s *Server) Close() error {
	s.jobMu.Lock()
	job := s.activeJob
	s.cancelRenormalize()
	s.jobMu.Unlock()
	if job != nil {
		<-job.done
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/explanations/normalize", s.handleNormalize)
		api.POST("/explanations/normalize/batch", s.handleNormalizeBatch)
		api.POST("/explanations/renormalize", s.handleRenormalize)
		api.GET("/explanations/renormalize/status", s.handleRenormalizeStatus)
		api.DELETE("/explanations/renormalize/:jobID", s.handleCancelRenormalize)
		api.POST("/predictions", s.handleCreatePrediction)
		api.GET("/predictions", s.handleListPredictions)
		api.GET("/predictions/stream", s.handlePredictionStream)
		api.GET("/predictions/:id", s.handleGetPrediction)
		api.GET("/stats/shapes", s.handleShapeStats)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	shapes := make([]string, 0, len(explain.Shapes))
	for _, shape := range explain.Shapes {
		shapes = append(shapes, shape.String())
	}
	c.JSON(http.StatusOK, gin.H{
		"workers":        s.workers,
		"batch_limit":    s.batchLimit,
		"shapes":         shapes,
		"field_aliases":  explain.FieldAliases,
		"stream_clients": s.notifier.ClientCount(),
	})
}

func (s *Server) handleNormalize(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	result, shape := s.normalizer.NormalizeShape(explanationFromBody(body))
	c.JSON(http.StatusOK, NormalizeResponse{Explanation: result, Shape: shape.String()})
}

func (s *Server) handleNormalizeBatch(c *gin.Context) {
	var req BatchNormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch payload: %w", err))
		return
	}
	if len(req.Items) > s.batchLimit {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("batch of %d exceeds limit %d", len(req.Items), s.batchLimit))
		return
	}

	raws := make([]any, len(req.Items))
	for i, item := range req.Items {
		raws[i] = explanationFromBody(item)
	}

	timer := util.StartTimer()
	results, err := s.normalizer.NormalizeAll(c.Request.Context(), raws, s.workers)
	if err != nil {
		s.renderError(c, http.StatusServiceUnavailable, err)
		return
	}
	s.metrics.ObserveBatchLatency(timer.Elapsed())

	resp := BatchNormalizeResponse{Items: make([]NormalizeResponse, 0, len(results)), Total: len(results)}
	for _, res := range results {
		if res.Explanation.Unstructured() {
			resp.Unstructured++
		}
		resp.Items = append(resp.Items, NormalizeResponse{Explanation: res.Explanation, Shape: res.Shape.String()})
	}
	logrus.WithFields(logrus.Fields{
		"items":        resp.Total,
		"unstructured": resp.Unstructured,
		"duration":     timer.Elapsed(),
	}).Debug("normalized explanation batch")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleShapeStats(c *gin.Context) {
	counts, err := s.db.CountByShape()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	var total int64
	for _, count := range counts {
		total += count.Total
	}
	if counts == nil {
		counts = []store.ShapeCount{}
	}
	c.JSON(http.StatusOK, ShapeStatsResponse{Items: counts, Total: total})
}

func (s *Server) handlePredictionStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("prediction websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("prediction websocket closed")
			} else {
				logrus.WithError(err).Warn("prediction websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// explanationFromBody decodes a JSON payload and picks the explanation out of it. An
// object carrying an explanation alias yields that field; anything else is the
// explanation itself. Bodies that are not JSON are treated as explanation text.
func explanationFromBody(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	if obj, ok := decoded.(map[string]any); ok {
		if value, found := explain.ResolveField(obj); found {
			return value
		}
	}
	return decoded
}

func parsePaging(c *gin.Context, defaultSize int) (offset, limit int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	return page * pageSize, pageSize
}
