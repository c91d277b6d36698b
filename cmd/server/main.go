package main

import (
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"deserveiq/backend/internal/api"
	"deserveiq/backend/internal/util"
)

func main() {
	util.ConfigureLogging()

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	cfg := api.Config{
		DBPath:         util.EnvString("DESERVEIQ_DB_PATH", filepath.Join(baseDir, "data", "deserveiq.db")),
		AllowedOrigins: util.EnvList("ALLOWED_ORIGINS"),
		SilentDB:       util.EnvBool("SILENT_DB"),
		Workers:        util.EnvInt("NORMALIZE_WORKERS", 4),
		BatchLimit:     util.EnvInt("NORMALIZE_BATCH_LIMIT", 500),
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close server")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := util.EnvString("PORT", "2000")
	logrus.WithFields(logrus.Fields{
		"db":      cfg.DBPath,
		"origins": cfg.AllowedOrigins,
	}).Infof("starting deserveiq backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
