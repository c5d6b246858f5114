package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"github.com/jackc/pgx/v5"
)

// FetchTasksForGeocoding retrieves tasks that still need coordinates: open tasks
// with a non-empty address, no latitude and fewer than MaxGeocodingAttempts
// failed attempts. Oldest tasks come first, at most limit of them.
func (r *Repository) FetchTasksForGeocoding(ctx context.Context, limit int) ([]models.Task, error) {
	var tasks []models.Task
	query := `
		SELECT task_id, address
		FROM public.tasks
		WHERE
			latitude IS NULL
			AND is_closed = false
			AND geocoding_attempts < $2
			AND address IS NOT NULL AND address <> ''
		ORDER BY created_at ASC
		LIMIT $1;
	`

	rows, err := r.db.Query(ctx, query, limit, MaxGeocodingAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tasks with address: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var task models.Task
		if errScan := rows.Scan(&task.ID, &task.Address); errScan != nil {
			return nil, fmt.Errorf("failed to scan active task with address: %w", errScan)
		}
		r.log.DebugContext(ctx, "A new active task without coordinates has been received.",
			"ID", task.ID, "Address", task.Address)
		tasks = append(tasks, task)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return tasks, nil
}

// UpdateTaskCoordinates sets the coordinates of a task geocoded one at a time
// and clears its geocoding error.
func (r *Repository) UpdateTaskCoordinates(ctx context.Context, taskID int, coords models.Coordinates) error {
	query := `
		UPDATE tasks
		SET
			latitude = $1,
			longitude = $2,
			geocoding_error = NULL
		WHERE
			task_id = $3;
	`

	_, err := r.db.Exec(ctx, query, coords.Latitude, coords.Longitude, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task coordinates: %w", err)
	}

	return nil
}

// SaveMatches stores the coordinates, matched address and score of every match
// in one transaction. Either all matches are saved or none.
func (r *Repository) SaveMatches(ctx context.Context, matches []models.Match) (err error) {
	if len(matches) == 0 {
		return nil
	}

	query := `
		UPDATE tasks
		SET
			latitude = $1,
			longitude = $2,
			geocoded_address = $3,
			geocoding_score = $4,
			geocoding_error = NULL
		WHERE
			task_id = $5;
	`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committing := false
	defer func() {
		// A failed commit has already closed the transaction.
		if err != nil && !committing {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
			}
		}
	}()

	for _, match := range matches {
		_, err = tx.Exec(ctx, query,
			match.Coordinates.Latitude, match.Coordinates.Longitude, match.Address, match.Score, match.TaskID)
		if err != nil {
			return fmt.Errorf("failed to save match for task %d: %w", match.TaskID, err)
		}
	}

	committing = true
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit matches: %w", err)
	}

	r.log.DebugContext(ctx, "Saved geocoding matches", "count", len(matches))

	return nil
}

// IncrementFailureCount increments the geocoding attempt count of the task
// and records the error message.
func (r *Repository) IncrementFailureCount(ctx context.Context, taskID int, errMsg string) error {
	query := `
		UPDATE tasks
		SET
			geocoding_attempts = geocoding_attempts + 1,
			geocoding_error = $1
		WHERE task_id = $2;
	`

	_, err := r.db.Exec(ctx, query, errMsg, taskID)
	if err != nil {
		return fmt.Errorf("failed to update geocoding error and number of attempts: %w", err)
	}

	return nil
}
