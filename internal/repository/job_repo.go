package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// terminalStatuses is used by scan queries that gate on step completion.
var terminalStatuses = []domain.JobStatus{domain.JobCompleted, domain.JobFailed, domain.JobCanceled}

type JobRepository interface {
	// CreateOrGet inserts the job unless one already exists for the same
	// (transaction, step, subscriber) tuple. The returned job is the row that
	// is actually in the database, and created reports whether this call
	// inserted it.
	CreateOrGet(ctx context.Context, job *domain.Job) (stored *domain.Job, created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)

	// TransitionStatus moves the job from one status to another with a
	// compare-and-swap. It returns domain.ErrConflict when the job is no
	// longer in the expected status, which makes concurrent claims safe.
	TransitionStatus(ctx context.Context, id string, from, to domain.JobStatus) error

	// GetDueForSchedule returns PENDING jobs whose scheduled time has passed
	// and whose previous step, when the job depends on it, has reached a
	// terminal state.
	GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	// GetOpenDigest finds the PENDING_DIGEST job holding the given window.
	GetOpenDigest(ctx context.Context, digestKey string) (*domain.Job, error)
	// AppendDigestPayload merges one more trigger payload into an open window.
	AppendDigestPayload(ctx context.Context, id string, payload map[string]any) error
	// GetDueDigests returns PENDING_DIGEST jobs whose window has closed.
	GetDueDigests(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	// MarkForRetry returns a RUNNING job to READY with an incremented attempt
	// count and the time of the next attempt.
	MarkForRetry(ctx context.Context, id string, nextRetryAt time.Time, errDetail string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errDetail string) error

	// GetDueForRetry returns READY jobs whose retry backoff has elapsed.
	GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	ClearNextRetryAt(ctx context.Context, id string) error

	// CancelByTransaction cancels every non-terminal job of the transaction,
	// optionally restricted to one channel, and returns how many were hit.
	CancelByTransaction(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error)
	CountNonTerminal(ctx context.Context, transactionID string) (int64, error)
	GetByTransactionID(ctx context.Context, transactionID string) ([]domain.Job, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) CreateOrGet(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}, {Name: "step_index"}, {Name: "subscriber_id"}},
			DoNothing: true,
		}).
		Create(job)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return job, true, nil
	}

	var existing domain.Job
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND step_index = ? AND subscriber_id = ?",
			job.TransactionID, job.StepIndex, job.SubscriberID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *GormJobRepo) TransitionStatus(ctx context.Context, id string, from, to domain.JobStatus) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrValidation
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.JobPending, now).
		Where(`(depends_on_previous = FALSE OR step_index = 0 OR NOT EXISTS (
			SELECT 1 FROM jobs prev
			WHERE prev.transaction_id = jobs.transaction_id
			  AND prev.subscriber_id = jobs.subscriber_id
			  AND prev.step_index < jobs.step_index
			  AND prev.status NOT IN ?
		))`, terminalStatuses).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *GormJobRepo) GetOpenDigest(ctx context.Context, digestKey string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND digest_key = ?", domain.JobPendingDigest, digestKey).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *GormJobRepo) AppendDigestPayload(ctx context.Context, id string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobPendingDigest).
		Updates(map[string]any{
			"payload_snapshots": gorm.Expr("payload_snapshots || ?::jsonb", string(encoded)),
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) GetDueDigests(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.JobPendingDigest, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *GormJobRepo) MarkForRetry(ctx context.Context, id string, nextRetryAt time.Time, errDetail string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{
			"status":        domain.JobReady,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"next_retry_at": nextRetryAt,
			"error_detail":  errDetail,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) MarkCompleted(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{
			"status":        domain.JobCompleted,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string, errDetail string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{
			"status":        domain.JobFailed,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"next_retry_at": nil,
			"error_detail":  errDetail,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.JobReady, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *GormJobRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{"next_retry_at": nil, "updated_at": time.Now().UTC()}).Error
}

func (r *GormJobRepo) CancelByTransaction(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("transaction_id = ? AND status NOT IN ?", transactionID, terminalStatuses)
	if channel != nil {
		query = query.Where("step ->> 'channel' = ?", channel.String())
	}
	result := query.Updates(map[string]any{
		"status":     domain.JobCanceled,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormJobRepo) CountNonTerminal(ctx context.Context, transactionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("transaction_id = ? AND status NOT IN ?", transactionID, terminalStatuses).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormJobRepo) GetByTransactionID(ctx context.Context, transactionID string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("subscriber_id ASC, step_index ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
