package logger

import "go.uber.org/zap"

// New builds the process-wide zap logger. Components receive it explicitly;
// there is no package-level logger.
func New(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
