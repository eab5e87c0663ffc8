package services

import (
	"time"

	"github.com/senyabanana/load-marketplace/internal/logger"
	"github.com/senyabanana/load-marketplace/internal/metrics"
	"github.com/senyabanana/load-marketplace/internal/repository"
)

// Deps - общие зависимости сервисов биржи грузов.
type Deps struct {
	Store   repository.Store
	Logger  logger.Logger
	Metrics metrics.Recorder
	// Now позволяет подменить часы в тестах.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.NopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopRecorder{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Now().UTC()
}
