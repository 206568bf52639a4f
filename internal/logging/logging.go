// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"Go2FlowSpectra/internal/config"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
)

// Setup applies the level and, when a file is configured, mirrors every entry
// at or above that level into it.
func Setup(cfg config.LogConfig) error {
	return Configure(log.StandardLogger(), cfg)
}

// Configure applies cfg to logger.
func Configure(logger *log.Logger, cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	paths := lfshook.PathMap{}
	for _, l := range log.AllLevels {
		if l <= level {
			paths[l] = cfg.File
		}
	}
	logger.AddHook(lfshook.NewHook(paths, &log.JSONFormatter{}))
	return nil
}
