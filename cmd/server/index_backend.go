package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"signlink.ai/internal/persistence/indexdb"
)

func openRuntimeIndex(worldDir string, disableDB bool, logger *zap.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SL_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Info("index disabled", zap.String("backend", backend))
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		logger.Info("index opened", zap.String("path", dbPath))
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported SL_INDEX_BACKEND: %s", backend)
	}
}
