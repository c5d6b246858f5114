package repository

import (
	"context"
	"log/slog"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
)

// MaxGeocodingAttempts is the number of failed attempts after which a task is no longer fetched.
const MaxGeocodingAttempts = 5

type Repository struct {
	db  Database
	log *slog.Logger
}

// Interface is the task storage used by the geocoding service.
type Interface interface {
	FetchTasksForGeocoding(ctx context.Context, limit int) ([]models.Task, error)
	UpdateTaskCoordinates(ctx context.Context, taskID int, coords models.Coordinates) error
	SaveMatches(ctx context.Context, matches []models.Match) error
	IncrementFailureCount(ctx context.Context, taskID int, errMsg string) error
}

// NewRepository creates a new instance of Repository with the provided Database.
func NewRepository(db Database, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}
