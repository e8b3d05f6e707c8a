package logger

import (
	"go.uber.org/zap"
)

var Log = zap.NewNop()

func Init(debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return
	}

	Log = log
}

func Sync() {
	_ = Log.Sync()
}
