package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-sms/meridian-sms/internal/authz"
	jobmetrics "github.com/meridian-sms/meridian-sms/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotWarmupJob pre-populates the authorization snapshot cache for
// subjects holding assignments, so the first guarded request after a
// deploy or cache flush does not pay both fetches.
type SnapshotWarmupJob struct {
	Loader  *authz.Loader
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSnapshotWarmupJob wires dependencies for the warmup handler.
func NewSnapshotWarmupJob(loader *authz.Loader, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotWarmupJob {
	return &SnapshotWarmupJob{
		Loader:  loader,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes snapshot warmup tasks.
func (j *SnapshotWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("snapshot warmup: handler not configured")
	}
	var payload SnapshotWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuthzSnapshotWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting snapshot warmup", slog.String("institution", payload.InstitutionID))

	pairs, err := j.fetchPairs(ctx, payload.InstitutionID)
	if err != nil {
		resultErr = err
		logger.Error("load warmup pairs", slog.Any("error", err))
		return resultErr
	}
	if len(pairs) == 0 {
		logger.Info("no pairs discovered for warmup")
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, pair := range pairs {
		if err := j.warmPair(ctx, pair); err != nil {
			resultErr = err
			logger.Error("warm pair",
				slog.String("subject", pair.subjectID),
				slog.String("institution", pair.institutionID),
				slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed snapshot warmup",
		slog.Int("pairs", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *SnapshotWarmupJob) warmPair(ctx context.Context, pair warmupPair) error {
	if j.Loader == nil {
		return nil
	}
	pairCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	return j.Loader.Warm(pairCtx, pair.subjectID, pair.institutionID)
}

func (j *SnapshotWarmupJob) fetchPairs(ctx context.Context, institutionID string) ([]warmupPair, error) {
	if j.Pool == nil {
		return nil, errors.New("snapshot warmup: pool not configured")
	}
	query := `SELECT DISTINCT subject_id, institution_id FROM role_assignments
		WHERE institution_id <> '' ORDER BY institution_id, subject_id`
	args := []any{}
	if institutionID != "" {
		query = `SELECT DISTINCT subject_id, institution_id FROM role_assignments
			WHERE institution_id = $1 ORDER BY subject_id`
		args = append(args, institutionID)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make([]warmupPair, 0)
	for rows.Next() {
		var pair warmupPair
		if err := rows.Scan(&pair.subjectID, &pair.institutionID); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (j *SnapshotWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzSnapshotWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAuthzSnapshotWarmup))
}

func (j *SnapshotWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SnapshotWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

type warmupPair struct {
	subjectID     string
	institutionID string
}
