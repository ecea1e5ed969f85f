package logger

import (
	"go.uber.org/zap"
)

// New returns a JSON production logger for the "production" environment and a
// human-readable development logger otherwise.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}
