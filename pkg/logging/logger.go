package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the command line logger. Development mode uses the
// console encoder; otherwise JSON is written to stderr.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logConfig := zap.NewProductionConfig()
	if development {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = lvl
	logConfig.OutputPaths = []string{"stderr"}
	return logConfig.Build()
}
