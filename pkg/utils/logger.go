package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// InitLogger installs the global production logger and returns its flush call.
func InitLogger(debug bool, opts ...zap.Option) func() {
	atom := zap.NewAtomicLevel()
	if debug {
		atom.SetLevel(zap.DebugLevel)
	} else {
		atom.SetLevel(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atom

	logger, err := cfg.Build(opts...)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
	zap.L().Debug("debug enabled")
	return func() {
		if err := logger.Sync(); err != nil {
			fmt.Println(err)
		}
	}
}
