// Package logging builds the process-wide zap logger, the way
// main.go.setupLogger does it in the teacher repo: a production JSON
// encoder writing to both a log file and stdout, handed out as a
// *zap.SugaredLogger to every other package's Setup function.
package logging

import "go.uber.org/zap"

// New builds a SugaredLogger writing to both logFile and stdout. Pass
// an empty logFile to log only to stdout (used by tests).
func New(logFile string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if logFile != "" {
		cfg.OutputPaths = []string{logFile, "stdout"}
	} else {
		cfg.OutputPaths = []string{"stdout"}
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}
