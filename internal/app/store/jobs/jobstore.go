// internal/app/store/jobs/jobstore.go
package jobstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for jobs.
const CollectionName = "jobs"

// Job status constants.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job types produced by the file lifecycle.
const (
	TypeGenerateThumbnail = "GenerateThumbnail"
	TypeExtractMetadata   = "ExtractMetadata"
	TypeTranscodeVideo    = "TranscodeVideo"
	TypeAnalyzeImage      = "AnalyzeImage"
)

// Queue names. Each job type has its own queue so a slow transcode backlog
// never delays thumbnails.
const (
	QueueThumbnails = "thumbnails"
	QueueMetadata   = "metadata"
	QueueTranscode  = "transcode"
	QueueAnalysis   = "analysis"
)

// QueueFor returns the queue a job type is routed to.
func QueueFor(jobType string) string {
	switch jobType {
	case TypeGenerateThumbnail:
		return QueueThumbnails
	case TypeExtractMetadata:
		return QueueMetadata
	case TypeTranscodeVideo:
		return QueueTranscode
	case TypeAnalyzeImage:
		return QueueAnalysis
	}
	return "default"
}

// Payload identifies the exact file content a job operates on. It is written
// once at enqueue time and never modified.
type Payload struct {
	FileID       primitive.ObjectID `bson:"file_id" json:"file_id"`
	OwnerID      string             `bson:"owner_id" json:"owner_id"`
	StoragePath  string             `bson:"storage_path" json:"storage_path"`
	MimeType     string             `bson:"mime_type" json:"mime_type"`
	OriginalName string             `bson:"original_name,omitempty" json:"original_name,omitempty"`
}

// Job represents a background job.
type Job struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	QueueName   string             `bson:"queue_name" json:"queue_name"`
	JobType     string             `bson:"job_type" json:"job_type"`
	Payload     Payload            `bson:"payload" json:"payload"`
	Status      string             `bson:"status" json:"status"`
	Priority    int                `bson:"priority" json:"priority"` // Higher = sooner
	Attempts    int                `bson:"attempts" json:"attempts"`
	MaxAttempts int                `bson:"max_attempts" json:"max_attempts"`
	Error       string             `bson:"error,omitempty" json:"error,omitempty"` // Last failure reason
	Result      map[string]any     `bson:"result,omitempty" json:"result,omitempty"`
	ScheduledAt time.Time          `bson:"scheduled_at" json:"scheduled_at"` // Not claimable before this
	StartedAt   *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt  *time.Time         `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
	WorkerID    string             `bson:"worker_id,omitempty" json:"worker_id,omitempty"`
}

var (
	// ErrNotFound is returned when a job is not found (or is not in a state
	// that allows the requested change).
	ErrNotFound = errors.New("job not found")
	// ErrPermanentFailure marks a handler error that must not be retried.
	ErrPermanentFailure = errors.New("job failed permanently")
	// ErrLeaseLost means a claimed job was swept as stalled (and possibly
	// claimed again) before its worker reported the outcome.
	ErrLeaseLost = errors.New("job lease lost")
)

// DefaultMaxAttempts is used when a job is created without a limit.
const DefaultMaxAttempts = 3

// Backoff computes retry delays: base·2^(attempts−1), capped at Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the next attempt after the given number of
// attempts have been made.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// Store provides job persistence.
type Store struct {
	c *mongo.Collection
}

// New creates a new job store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// CreateInput holds the fields for creating a new job.
type CreateInput struct {
	QueueName   string // "" = routed by QueueFor(JobType)
	JobType     string
	Payload     Payload
	Priority    int
	MaxAttempts int
	ScheduledAt *time.Time // nil = run immediately
}

// Create creates a new waiting job.
func (s *Store) Create(ctx context.Context, input CreateInput) (Job, error) {
	now := time.Now().UTC()

	scheduledAt := now
	if input.ScheduledAt != nil {
		scheduledAt = *input.ScheduledAt
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	queue := input.QueueName
	if queue == "" {
		queue = QueueFor(input.JobType)
	}

	job := Job{
		ID:          primitive.NewObjectID(),
		QueueName:   queue,
		JobType:     input.JobType,
		Payload:     input.Payload,
		Status:      StatusWaiting,
		Priority:    input.Priority,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.c.InsertOne(ctx, job); err != nil {
		return Job{}, err
	}

	return job, nil
}

// Enqueue creates a job that runs immediately on its type's queue.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload Payload, maxAttempts int) (Job, error) {
	return s.Create(ctx, CreateInput{
		JobType:     jobType,
		Payload:     payload,
		MaxAttempts: maxAttempts,
	})
}

// ClaimNext atomically moves the next due waiting job of a queue to active and
// counts the attempt. Returns nil, nil if no jobs are available.
func (s *Store) ClaimNext(ctx context.Context, queueName, workerID string) (*Job, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"queue_name":   queueName,
		"status":       StatusWaiting,
		"scheduled_at": bson.M{"$lte": now},
	}

	update := bson.M{
		"$set": bson.M{
			"status":     StatusActive,
			"started_at": now,
			"worker_id":  workerID,
			"updated_at": now,
		},
		"$inc": bson.M{
			"attempts": 1,
		},
	}

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "scheduled_at", Value: 1},
		}).
		SetReturnDocument(options.After)

	var job Job
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}

	return &job, nil
}

// lease matches the job only while the given claim still holds it. A job
// swept as stalled and claimed again has a new worker_id and attempt count.
func lease(job *Job) bson.M {
	return bson.M{
		"_id":       job.ID,
		"status":    StatusActive,
		"worker_id": job.WorkerID,
		"attempts":  job.Attempts,
	}
}

// Complete marks a claimed job as completed with its result. It returns
// ErrLeaseLost when the claim no longer holds the job.
func (s *Store) Complete(ctx context.Context, job *Job, result map[string]any) error {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, lease(job), bson.M{
		"$set": bson.M{
			"status":      StatusCompleted,
			"finished_at": now,
			"result":      result,
			"updated_at":  now,
		},
		"$unset": bson.M{"error": ""},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a failed attempt of a claimed job. The job goes back to
// waiting after the backoff delay, or to failed when permanent or out of
// attempts. It returns the new status, or ErrLeaseLost when the claim no
// longer holds the job.
func (s *Store) Fail(ctx context.Context, job *Job, errMsg string, backoff Backoff, permanent bool) (string, error) {
	now := time.Now().UTC()

	status := StatusFailed
	update := bson.M{
		"$set": bson.M{
			"status":      StatusFailed,
			"error":       errMsg,
			"finished_at": now,
			"updated_at":  now,
		},
	}
	if !permanent && job.Attempts < job.MaxAttempts {
		status = StatusWaiting
		update = bson.M{
			"$set": bson.M{
				"status":       StatusWaiting,
				"error":        errMsg,
				"scheduled_at": now.Add(backoff.Delay(job.Attempts)),
				"updated_at":   now,
			},
			"$unset": bson.M{"started_at": "", "worker_id": ""},
		}
	}

	res, err := s.c.UpdateOne(ctx, lease(job), update)
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", ErrLeaseLost
	}
	return status, nil
}

// Retry moves a failed job back to waiting. Attempts are preserved, so a job
// that already used all of them gets exactly one more try.
func (s *Store) Retry(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now().UTC()
	result, err := s.c.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": StatusFailed,
	}, bson.M{
		"$set": bson.M{
			"status":       StatusWaiting,
			"scheduled_at": now,
			"updated_at":   now,
		},
		"$unset": bson.M{"started_at": "", "finished_at": "", "worker_id": ""},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Retryable reports whether a job may be retried by an operator.
func (j *Job) Retryable() bool {
	return j.Status == StatusFailed
}

// GetByID retrieves a job by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*Job, error) {
	var job Job
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	QueueName string
	JobType   string
	Status    string
	FileID    *primitive.ObjectID
}

// ListResult contains a page of jobs with pagination info.
type ListResult struct {
	Jobs       []Job `json:"jobs"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// List returns jobs matching the filter with pagination, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter, page, pageSize int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	query := s.buildQuery(filter)

	total, err := s.c.CountDocuments(ctx, query)
	if err != nil {
		return ListResult{}, err
	}

	skip := (page - 1) * pageSize
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}

	opts := options.Find().
		SetSort(bson.D{
			{Key: "created_at", Value: -1},
		}).
		SetSkip(int64(skip)).
		SetLimit(int64(pageSize))

	cur, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return ListResult{}, err
	}
	defer cur.Close(ctx)

	jobs := []Job{}
	if err := cur.All(ctx, &jobs); err != nil {
		return ListResult{}, err
	}

	return ListResult{
		Jobs:       jobs,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// buildQuery constructs a MongoDB query from ListFilter.
func (s *Store) buildQuery(filter ListFilter) bson.M {
	query := bson.M{}

	if filter.QueueName != "" {
		query["queue_name"] = filter.QueueName
	}
	if filter.JobType != "" {
		query["job_type"] = filter.JobType
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.FileID != nil {
		query["payload.file_id"] = *filter.FileID
	}

	return query
}

// Health labels reported by Stats.
const (
	HealthHealthy   = "healthy"
	HealthBusy      = "busy"
	HealthUnhealthy = "unhealthy"
)

// HealthThresholds configures the queue health label.
type HealthThresholds struct {
	BusyWaiting  int64         // waiting >= this is busy
	MaxFailed    int64         // failed > this is unhealthy
	StallTimeout time.Duration // active longer than this counts as stalled
}

// QueueStats holds statistics for one queue or, with an empty QueueName, for
// all queues combined.
type QueueStats struct {
	QueueName     string     `json:"queue_name,omitempty"`
	Waiting       int64      `json:"waiting"`
	Active        int64      `json:"active"`
	Completed     int64      `json:"completed"`
	Failed        int64      `json:"failed"`
	Stalled       int64      `json:"stalled"`
	TotalJobs     int64      `json:"total_jobs"`
	OldestWaiting *time.Time `json:"oldest_waiting,omitempty"`
	Health        string     `json:"health"`
}

// Label derives the health label from counts: unhealthy when too many jobs
// failed or any job is stalled, busy when the backlog is large.
func Label(waiting, failed, stalled int64, th HealthThresholds) string {
	switch {
	case failed > th.MaxFailed || stalled > 0:
		return HealthUnhealthy
	case th.BusyWaiting > 0 && waiting >= th.BusyWaiting:
		return HealthBusy
	default:
		return HealthHealthy
	}
}

func (qs *QueueStats) add(status string, count int64) {
	switch status {
	case StatusWaiting:
		qs.Waiting = count
	case StatusActive:
		qs.Active = count
	case StatusCompleted:
		qs.Completed = count
	case StatusFailed:
		qs.Failed = count
	}
	qs.TotalJobs += count
}

// GetQueueStats returns statistics for a queue ("" = all queues).
func (s *Store) GetQueueStats(ctx context.Context, queueName string, th HealthThresholds) (QueueStats, error) {
	stats := QueueStats{QueueName: queueName}

	filter := bson.M{}
	if queueName != "" {
		filter["queue_name"] = queueName
	}

	pipeline := []bson.M{
		{"$match": filter},
		{
			"$group": bson.M{
				"_id":   "$status",
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return stats, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var result struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cur.Decode(&result); err != nil {
			continue
		}
		stats.add(result.Status, result.Count)
	}

	stalled, err := s.c.CountDocuments(ctx, s.stalledFilter(queueName, th.StallTimeout))
	if err != nil {
		return stats, err
	}
	stats.Stalled = stalled

	var oldestJob Job
	opts := options.FindOne().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})
	waitingFilter := bson.M{"status": StatusWaiting}
	if queueName != "" {
		waitingFilter["queue_name"] = queueName
	}
	if err := s.c.FindOne(ctx, waitingFilter, opts).Decode(&oldestJob); err == nil {
		stats.OldestWaiting = &oldestJob.ScheduledAt
	}

	stats.Health = Label(stats.Waiting, stats.Failed, stats.Stalled, th)
	return stats, nil
}

// GetAllQueueStats returns statistics for every queue that has jobs.
func (s *Store) GetAllQueueStats(ctx context.Context, th HealthThresholds) ([]QueueStats, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id": bson.M{
					"queue":  "$queue_name",
					"status": "$status",
				},
				"count": bson.M{"$sum": 1},
			},
		},
		{
			"$group": bson.M{
				"_id": "$_id.queue",
				"statuses": bson.M{
					"$push": bson.M{
						"status": "$_id.status",
						"count":  "$count",
					},
				},
			},
		},
		{"$sort": bson.M{"_id": 1}},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []QueueStats
	for cur.Next(ctx) {
		var doc struct {
			QueueName string `bson:"_id"`
			Statuses  []struct {
				Status string `bson:"status"`
				Count  int64  `bson:"count"`
			} `bson:"statuses"`
		}
		if err := cur.Decode(&doc); err != nil {
			continue
		}

		stats := QueueStats{QueueName: doc.QueueName}
		for _, st := range doc.Statuses {
			stats.add(st.Status, st.Count)
		}
		stalled, err := s.c.CountDocuments(ctx, s.stalledFilter(doc.QueueName, th.StallTimeout))
		if err != nil {
			return nil, err
		}
		stats.Stalled = stalled
		stats.Health = Label(stats.Waiting, stats.Failed, stats.Stalled, th)
		results = append(results, stats)
	}

	return results, cur.Err()
}

func (s *Store) stalledFilter(queueName string, stallTimeout time.Duration) bson.M {
	filter := bson.M{
		"status":     StatusActive,
		"started_at": bson.M{"$lt": time.Now().UTC().Add(-stallTimeout)},
	}
	if queueName != "" {
		filter["queue_name"] = queueName
	}
	return filter
}

// DeleteOlderThan deletes completed jobs finished before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.c.DeleteMany(ctx, bson.M{
		"status":      StatusCompleted,
		"finished_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// SweepStalled treats every job that has been active longer than
// stallTimeout as a failed attempt. Jobs with attempts left are re-queued
// immediately; the rest are marked failed. This handles jobs whose workers
// crashed.
func (s *Store) SweepStalled(ctx context.Context, stallTimeout time.Duration) (requeued, failed int64, err error) {
	now := time.Now().UTC()
	stalled := s.stalledFilter("", stallTimeout)

	exhausted := bson.M{"$expr": bson.M{"$gte": bson.A{"$attempts", "$max_attempts"}}}
	res, err := s.c.UpdateMany(ctx, bson.M{"$and": bson.A{stalled, exhausted}}, bson.M{
		"$set": bson.M{
			"status":      StatusFailed,
			"error":       "worker timeout",
			"finished_at": now,
			"updated_at":  now,
		},
	})
	if err != nil {
		return 0, 0, err
	}
	failed = res.ModifiedCount

	res, err = s.c.UpdateMany(ctx, stalled, bson.M{
		"$set": bson.M{
			"status":       StatusWaiting,
			"error":        "worker timeout - job re-queued",
			"scheduled_at": now,
			"updated_at":   now,
		},
		"$unset": bson.M{"started_at": "", "worker_id": ""},
	})
	if err != nil {
		return 0, failed, err
	}
	return res.ModifiedCount, failed, nil
}
