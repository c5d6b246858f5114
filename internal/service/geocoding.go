package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"github.com/UnknownOlympus/atlas-arcgis/internal/repository"
)

// taskLimit is the number of tasks fetched per polling interval.
const taskLimit = 100

// Options tune the polling loop and the batch worker pool.
type Options struct {
	Workers       int           // Number of concurrent batch workers
	Interval      time.Duration // Interval between polls for new tasks
	BatchSize     int           // Tasks sent in one batch request
	MinScore      float64       // Matches scoring below this are recorded as failures
	AddressPrefix string        // Prefix added to every address (country, city, etc.)
}

// GeocodingService polls the repository for tasks without coordinates and
// geocodes them in batches through the provider.
type GeocodingService struct {
	log      *slog.Logger         // Logger for logging service activities
	repo     repository.Interface // Interface for data repository access
	provider geocoding.Provider   // Geocoding provider for external geocoding services
	metrics  *metrics.Metrics     // Metrics for tracking service performance
	opts     Options
}

// NewGeocodingService creates a new instance of GeocodingService.
// Workers and BatchSize below one are treated as one.
func NewGeocodingService(
	log *slog.Logger,
	repo repository.Interface,
	provider geocoding.Provider,
	metrics *metrics.Metrics,
	opts Options,
) *GeocodingService {
	opts.Workers = max(opts.Workers, 1)
	opts.BatchSize = max(opts.BatchSize, 1)

	return &GeocodingService{
		log:      log,
		repo:     repo,
		provider: provider,
		metrics:  metrics,
		opts:     opts,
	}
}

// Run starts the geocoding service, which periodically polls for new tasks to geocode.
// It listens for a cancellation signal from the context to gracefully stop the service.
func (gs *GeocodingService) Run(ctx context.Context) {
	ticker := time.NewTicker(gs.opts.Interval)
	defer ticker.Stop()

	gs.log.InfoContext(ctx, "Geocoding service started...")

	for {
		select {
		case <-ctx.Done():
			gs.log.InfoContext(ctx, "Geocoding service stopped.")
			return
		case <-ticker.C:
			gs.log.InfoContext(ctx, "Polling for new tasks to geocode...")
			gs.processTasks(ctx)
		}
	}
}

// processTasks fetches tasks, splits them into batches and waits until the
// worker pool has processed every batch.
func (gs *GeocodingService) processTasks(ctx context.Context) {
	tasks, err := gs.repo.FetchTasksForGeocoding(ctx, taskLimit)
	if err != nil {
		gs.log.ErrorContext(ctx, "Failed to fetch tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		gs.log.InfoContext(ctx, "No tasks to process.")
		return
	}

	batches := gs.split(tasks)
	gs.log.InfoContext(
		ctx,
		"Found tasks to process. Starting worker pool.",
		"jobs", len(tasks),
		"batches", len(batches),
		"num_workers", gs.opts.Workers,
	)

	jobs := make(chan []models.Task, len(batches))
	var wgr sync.WaitGroup

	for i := 1; i <= gs.opts.Workers; i++ {
		wgr.Add(1)
		go gs.worker(ctx, i, &wgr, jobs)
	}

	for _, batch := range batches {
		jobs <- batch
	}
	close(jobs)

	wgr.Wait()
	gs.log.InfoContext(ctx, "Processing batch finished")
}

// split applies the address prefix and cuts tasks into batches of BatchSize.
func (gs *GeocodingService) split(tasks []models.Task) [][]models.Task {
	var batches [][]models.Task
	for start := 0; start < len(tasks); start += gs.opts.BatchSize {
		end := min(start+gs.opts.BatchSize, len(tasks))
		batch := make([]models.Task, 0, end-start)
		for _, task := range tasks[start:end] {
			task.Address = gs.opts.AddressPrefix + task.Address
			batch = append(batch, task)
		}
		batches = append(batches, batch)
	}

	return batches
}

func (gs *GeocodingService) worker(ctx context.Context, idx int, wg *sync.WaitGroup, jobs <-chan []models.Task) {
	defer wg.Done()
	for batch := range jobs {
		gs.metrics.ActiveWorkers.Inc()
		gs.log.DebugContext(ctx, "Processing batch", "worker", idx, "tasks", len(batch))

		gs.processBatch(ctx, idx, batch)

		gs.metrics.ActiveWorkers.Dec()
	}
}

// processBatch geocodes one batch. Accepted matches are saved together, every
// other task gets its failure count incremented. Without batch credentials the
// tasks are geocoded one by one.
func (gs *GeocodingService) processBatch(ctx context.Context, idx int, batch []models.Task) {
	matches, err := gs.provider.GeocodeBatch(ctx, batch)
	if errors.Is(err, geocoding.ErrEsriUnauthorized) {
		gs.log.WarnContext(ctx, "Batch geocoding is not authorized, geocoding addresses one by one",
			"worker", idx, "error", err)
		for _, task := range batch {
			gs.processSingle(ctx, idx, task)
		}
		return
	}
	if err != nil {
		gs.log.ErrorContext(ctx, "Failed to geocode batch", "worker", idx, "tasks", len(batch), "error", err)
		gs.metrics.APIErrors.Inc()
		for _, task := range batch {
			gs.fail(ctx, idx, task.ID, err.Error())
		}
		return
	}

	byTask := make(map[int]models.Match, len(matches))
	for _, match := range matches {
		byTask[match.TaskID] = match
	}

	accepted := make([]models.Match, 0, len(matches))
	for _, task := range batch {
		match, ok := byTask[task.ID]
		switch {
		case !ok:
			gs.fail(ctx, idx, task.ID, "no match found")
		case match.Score < gs.opts.MinScore:
			gs.fail(ctx, idx, task.ID,
				fmt.Sprintf("match score %.2f is below %.2f", match.Score, gs.opts.MinScore))
		default:
			accepted = append(accepted, match)
		}
	}

	if len(accepted) == 0 {
		return
	}

	if err = gs.repo.SaveMatches(ctx, accepted); err != nil {
		gs.log.ErrorContext(ctx, "Failed to save matches", "worker", idx, "matches", len(accepted), "error", err)
		return
	}

	gs.metrics.TaskProcessed.WithLabelValues("success").Add(float64(len(accepted)))
	gs.log.DebugContext(ctx, "Worker successfully processed the batch",
		"worker", idx, "matched", len(accepted), "tasks", len(batch))
}

func (gs *GeocodingService) processSingle(ctx context.Context, idx int, task models.Task) {
	coords, err := gs.provider.Geocode(ctx, task.Address)
	if err != nil {
		gs.log.ErrorContext(ctx, "Failed to geocode", "worker", idx, "task", task.ID, "error", err)
		gs.metrics.APIErrors.Inc()
		gs.fail(ctx, idx, task.ID, err.Error())
		return
	}

	if err = gs.repo.UpdateTaskCoordinates(ctx, task.ID, *coords); err != nil {
		gs.log.ErrorContext(ctx, "Failed to update coordinates for task", "worker", idx, "task", task.ID, "error", err)
		return
	}

	gs.metrics.TaskProcessed.WithLabelValues("success").Inc()
}

func (gs *GeocodingService) fail(ctx context.Context, idx, taskID int, msg string) {
	gs.metrics.TaskProcessed.WithLabelValues("failure").Inc()

	if err := gs.repo.IncrementFailureCount(ctx, taskID, msg); err != nil {
		gs.log.ErrorContext(
			ctx,
			"Could not update failure count for task",
			"worker", idx,
			"task", taskID,
			"error", err,
		)
	}
}
