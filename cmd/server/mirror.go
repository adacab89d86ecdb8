package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"signlink.ai/internal/persistence/objstore"
)

// openMirror builds the bucket mirror from SL_MIRROR_* variables. It returns
// nil when mirroring is off.
func openMirror(dataDir string, logger *zap.Logger) (*objstore.Mirror, error) {
	if !envBool("SL_MIRROR", false) {
		return nil, nil
	}
	client, err := objstore.NewClient(objstore.Credentials{
		Endpoint:        os.Getenv("SL_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("SL_MIRROR_BUCKET"),
		Region:          os.Getenv("SL_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("SL_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SL_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("SL_MIRROR=true: %w", err)
	}
	m := objstore.NewMirror(client, objstore.MirrorOptions{
		Root:    dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("SL_MIRROR_PREFIX")),
		Workers: envInt("SL_MIRROR_WORKERS", 2),
	}, logger)
	logger.Info("mirroring enabled", zap.String("bucket", os.Getenv("SL_MIRROR_BUCKET")))
	return m, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
