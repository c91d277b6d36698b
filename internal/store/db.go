package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a prediction does not exist.
var ErrNotFound = errors.New("prediction not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Prediction{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePrediction inserts a prediction, updating the row when the request id exists.
func (d *Database) SavePrediction(p *Prediction) error {
	if p == nil {
		return errors.New("prediction is nil")
	}
	if strings.TrimSpace(p.RequestID) == "" {
		return errors.New("prediction request id is empty")
	}
	p.StudentName = strings.TrimSpace(p.StudentName)
	p.District = strings.TrimSpace(p.District)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "request_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"student_name",
			"district",
			"dropout_probability",
			"deservingness_score",
			"risk_tier",
			"explanation_raw",
			"explanation_shape",
			"explanation_json",
			"unstructured",
			"updated_at",
		}),
	}).Create(p).Error
}

// GetPrediction fetches a prediction by request id.
func (d *Database) GetPrediction(requestID string) (*Prediction, error) {
	var p Prediction
	err := d.gorm.Where("request_id = ?", strings.TrimSpace(requestID)).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPredictions returns the number of stored predictions.
func (d *Database) CountPredictions() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Prediction{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// PredictionQuery encapsulates filters and pagination for listing predictions.
type PredictionQuery struct {
	Query    string
	RiskTier string
	Shape    string
	Sort     string
	Offset   int
	Limit    int
}

// ListPredictions returns paginated prediction records applying optional filters.
func (d *Database) ListPredictions(opts PredictionQuery) ([]Prediction, int64, error) {
	var total int64
	base := d.gorm.Model(&Prediction{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := fmt.Sprintf("%%%s%%", q)
		base = base.Where("student_name LIKE ? OR district LIKE ? OR request_id LIKE ?", like, like, like)
	}
	if tier := strings.TrimSpace(opts.RiskTier); tier != "" {
		base = base.Where("risk_tier = ?", strings.ToUpper(tier))
	}
	if shape := strings.TrimSpace(opts.Shape); shape != "" {
		base = base.Where("explanation_shape = ?", strings.ToLower(shape))
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	queryBuilder := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []Prediction
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "name_asc":
		return "predictions.student_name ASC"
	case "name_desc":
		return "predictions.student_name DESC"
	case "probability_desc":
		return "predictions.dropout_probability DESC, predictions.id DESC"
	case "probability_asc":
		return "predictions.dropout_probability ASC, predictions.id DESC"
	case "deservingness_desc":
		return "predictions.deservingness_score DESC, predictions.id DESC"
	case "created_asc":
		return "predictions.created_at ASC, predictions.id ASC"
	case "created_desc":
		return "predictions.created_at DESC, predictions.id DESC"
	default:
		return "predictions.id DESC"
	}
}

// ShapeCount is the number of stored predictions per explanation shape.
type ShapeCount struct {
	Shape        string `json:"shape"`
	Total        int64  `json:"total"`
	Unstructured int64  `json:"unstructured"`
}

// CountByShape aggregates predictions by explanation shape.
func (d *Database) CountByShape() ([]ShapeCount, error) {
	var rows []ShapeCount
	err := d.gorm.Model(&Prediction{}).
		Select("explanation_shape AS shape, COUNT(*) AS total, SUM(CASE WHEN unstructured THEN 1 ELSE 0 END) AS unstructured").
		Group("explanation_shape").
		Order("total DESC, shape ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by shape: %w", err)
	}
	return rows, nil
}

// EachPredictionBatch walks all predictions in id order, size rows at a time.
func (d *Database) EachPredictionBatch(size int, fn func([]Prediction) error) error {
	if size <= 0 {
		size = 250
	}
	var rows []Prediction
	result := d.gorm.Model(&Prediction{}).Order("id ASC").FindInBatches(&rows, size, func(tx *gorm.DB, batch int) error {
		return fn(rows)
	})
	return result.Error
}

// UpdateExplanations rewrites the canonical explanation columns of rows.
func (d *Database) UpdateExplanations(rows []Prediction) error {
	if len(rows) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			err := tx.Model(&Prediction{}).Where("id = ?", rows[i].ID).Updates(map[string]any{
				"explanation_shape": rows[i].ExplanationShape,
				"explanation_json":  rows[i].ExplanationJSON,
				"unstructured":      rows[i].Unstructured,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"UPDATE predictions SET risk_tier = UPPER(risk_tier) WHERE risk_tier IS NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_predictions_request_id ON predictions(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_predictions_tier_probability ON predictions(risk_tier, dropout_probability)",
		"CREATE INDEX IF NOT EXISTS idx_predictions_shape_unstructured ON predictions(explanation_shape, unstructured)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
