package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/models"
	"github.com/add-xylitol/1.Todo-list/repositories"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrTaskNotFound: no row with that id exists at all.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskForbidden: the row exists but belongs to another user. Never
	// collapsed into ErrTaskNotFound: a foreign id must be rejected, not
	// treated as an invitation to create a duplicate.
	ErrTaskForbidden = errors.New("task belongs to another user")
	// ErrValidation marks bad input; handlers map it to 400.
	ErrValidation = errors.New("validation failed")
	// ErrVersionConflict: a conditional write lost the race against a
	// concurrent mutation of the same row.
	ErrVersionConflict = errors.New("task was modified concurrently")
	// ErrNotArchived: restore called on a task that is not tombstoned.
	ErrNotArchived = errors.New("task is not archived")
	// ErrTaskLimitReached: the plan's task quota is used up.
	ErrTaskLimitReached = errors.New("task limit for the current plan reached")
)

// TaskStore is the persistence surface the task and sync services run on.
// *repositories.TaskRepository implements it; tests substitute an
// in-memory fake.
type TaskStore interface {
	Insert(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Task, error)
	ModifiedSince(ctx context.Context, ownerID primitive.ObjectID, since time.Time) ([]models.Task, error)
	ListByOwner(ctx context.Context, ownerID primitive.ObjectID, filter repositories.TaskFilter) ([]models.Task, int64, error)
	ReplaceVersioned(ctx context.Context, task *models.Task, expectedVersion int64) (bool, error)
	Delete(ctx context.Context, id, ownerID primitive.ObjectID) (bool, error)
	CountByOwner(ctx context.Context, ownerID primitive.ObjectID) (int64, int64, error)
	StatsByOwner(ctx context.Context, ownerID primitive.ObjectID, now time.Time) (*models.TaskStatsOverview, error)
}

// TaskQuota reports how many live tasks the user's plan allows. The
// subscription service implements it; a nil quota disables the cap.
type TaskQuota interface {
	TaskLimit(ctx context.Context, userID primitive.ObjectID) (int64, error)
}

// TaskService owns the direct task operations: CRUD, completion toggle,
// the archive/restore/purge lifecycle and batch reorder. Every write runs
// through the version discipline (Touch + conditional replace).
type TaskService struct {
	store TaskStore
	quota TaskQuota
	now   func() time.Time
}

func NewTaskService(store TaskStore, quota TaskQuota) *TaskService {
	return &TaskService{store: store, quota: quota, now: time.Now}
}

// getOwned is the ownership guard: the lookup is by id alone so that a
// foreign id surfaces as ErrTaskForbidden instead of falling through to a
// not-found (and, on the sync path, a spoofed create).
func (s *TaskService) getOwned(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Task, error) {
	task, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.OwnerID != ownerID {
		return nil, ErrTaskForbidden
	}
	return task, nil
}

// Create inserts a fresh task for the owner. syncVersion starts at 1. The
// plan's task quota is checked against the live row count first.
func (s *TaskService) Create(ctx context.Context, ownerID primitive.ObjectID, task *models.Task) (*models.Task, error) {
	task.NormalizeDefaults()
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if s.quota != nil {
		limit, err := s.quota.TaskLimit(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		total, _, err := s.store.CountByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if total >= limit {
			logging.Logger.Warnf("Event ID: TASK_LIMIT_REACHED, Description: User %s is at the plan limit of %d tasks", ownerID.Hex(), limit)
			return nil, ErrTaskLimitReached
		}
	}

	now := s.now()
	task.ID = primitive.NilObjectID
	task.OwnerID = ownerID
	task.SyncVersion = 1
	task.LastModified = now
	task.CreatedAt = now
	task.UpdatedAt = now
	task.IsDeleted = false
	task.DeletedAt = nil

	if err := s.store.Insert(ctx, task); err != nil {
		return nil, err
	}
	logging.Logger.Infof("Event ID: TASK_CREATED, Description: Task %s created for user %s", task.ID.Hex(), ownerID.Hex())
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Task, error) {
	return s.getOwned(ctx, id, ownerID)
}

func (s *TaskService) List(ctx context.Context, ownerID primitive.ObjectID, filter repositories.TaskFilter) ([]models.Task, int64, error) {
	return s.store.ListByOwner(ctx, ownerID, filter)
}

// Update applies the client-settable fields onto the stored row. Accepted
// mutations always advance lastModified/syncVersion, even when every field
// value is identical to what was stored before.
func (s *TaskService) Update(ctx context.Context, id, ownerID primitive.ObjectID, fields *models.Task) (*models.Task, error) {
	task, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	fields.NormalizeDefaults()
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	expected := task.SyncVersion
	task.ApplyClientFields(fields)
	task.Touch(s.now())

	ok, err := s.store.ReplaceVersioned(ctx, task, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionConflict
	}
	return task, nil
}

// Toggle flips completion state.
func (s *TaskService) Toggle(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Task, error) {
	task, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	expected := task.SyncVersion
	task.ToggleComplete(s.now())

	ok, err := s.store.ReplaceVersioned(ctx, task, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionConflict
	}
	return task, nil
}

// Archive tombstones the task. The row survives with a fresh lastModified
// so other devices pick the deletion up through delta sync.
func (s *TaskService) Archive(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Task, error) {
	task, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	expected := task.SyncVersion
	task.Archive(s.now())

	ok, err := s.store.ReplaceVersioned(ctx, task, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionConflict
	}
	logging.Logger.Infof("Event ID: TASK_ARCHIVED, Description: Task %s archived for user %s", id.Hex(), ownerID.Hex())
	return task, nil
}

// Restore clears the tombstone while the row still exists.
func (s *TaskService) Restore(ctx context.Context, id, ownerID primitive.ObjectID) (*models.Task, error) {
	task, err := s.getOwned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !task.Deleted() {
		return nil, ErrNotArchived
	}

	expected := task.SyncVersion
	task.Restore(s.now())

	ok, err := s.store.ReplaceVersioned(ctx, task, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionConflict
	}
	return task, nil
}

// Purge physically removes the row. Devices that synced before the
// soft-delete and never since will keep a zombie local copy; that is a
// documented property of purge, not something sync can repair afterwards.
func (s *TaskService) Purge(ctx context.Context, id, ownerID primitive.ObjectID) error {
	if _, err := s.getOwned(ctx, id, ownerID); err != nil {
		return err
	}
	deleted, err := s.store.Delete(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrTaskNotFound
	}
	logging.Logger.Infof("Event ID: TASK_PURGED, Description: Task %s permanently deleted for user %s", id.Hex(), ownerID.Hex())
	return nil
}

// BatchAction names one of the bulk operations on a set of task ids.
type BatchAction string

const (
	BatchActionComplete   BatchAction = "complete"
	BatchActionIncomplete BatchAction = "incomplete"
	BatchActionDelete     BatchAction = "delete"
	BatchActionUpdate     BatchAction = "update"
)

// BatchUpdates carries the optional field changes of an "update" batch.
// Nil fields are left alone.
type BatchUpdates struct {
	Priority *models.Priority `json:"priority,omitempty"`
	Category *string          `json:"category,omitempty"`
	DueDate  *time.Time       `json:"dueDate,omitempty"`
}

// Batch applies one action to up to 100 tasks. Like Reorder, every id is
// validated through the ownership guard before any row is written, and a
// lookup or ownership failure rejects the whole batch. Tombstoned rows are
// not valid batch targets. Each row gets the usual version bump.
func (s *TaskService) Batch(ctx context.Context, ownerID primitive.ObjectID, action BatchAction, ids []primitive.ObjectID, updates *BatchUpdates) ([]models.Task, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: batch must not be empty", ErrValidation)
	}
	if len(ids) > 100 {
		return nil, fmt.Errorf("%w: batch exceeds 100 items", ErrValidation)
	}
	switch action {
	case BatchActionComplete, BatchActionIncomplete, BatchActionDelete:
	case BatchActionUpdate:
		if updates == nil {
			return nil, fmt.Errorf("%w: update batch needs field changes", ErrValidation)
		}
		if updates.Priority != nil && !updates.Priority.Valid() {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, *updates.Priority)
		}
	default:
		return nil, fmt.Errorf("%w: unknown batch action %q", ErrValidation, action)
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.getOwned(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		if task.Deleted() {
			return nil, fmt.Errorf("%w: task %s is archived", ErrValidation, id.Hex())
		}
		tasks = append(tasks, task)
	}

	now := s.now()
	updated := make([]models.Task, 0, len(ids))
	for _, task := range tasks {
		expected := task.SyncVersion
		switch action {
		case BatchActionComplete:
			task.Completed = true
			at := now
			task.CompletedAt = &at
			task.Touch(now)
		case BatchActionIncomplete:
			task.Completed = false
			task.CompletedAt = nil
			task.Touch(now)
		case BatchActionDelete:
			task.Archive(now)
		case BatchActionUpdate:
			if updates.Priority != nil {
				task.Priority = *updates.Priority
			}
			if updates.Category != nil {
				task.Category = *updates.Category
			}
			if updates.DueDate != nil {
				task.DueDate = updates.DueDate
			}
			task.Touch(now)
		}

		ok, err := s.store.ReplaceVersioned(ctx, task, expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrVersionConflict
		}
		updated = append(updated, *task)
	}
	logging.Logger.Infof("Event ID: TASK_BATCH_APPLIED, Description: Batch %s applied to %d tasks for user %s", action, len(updated), ownerID.Hex())
	return updated, nil
}

// Stats returns the owner's task statistics overview.
func (s *TaskService) Stats(ctx context.Context, ownerID primitive.ObjectID) (*models.TaskStatsOverview, error) {
	return s.store.StatsByOwner(ctx, ownerID, s.now())
}

// Reorder applies a drag-reorder batch. Every id is validated through the
// ownership guard before any row is written, and an ownership or lookup
// failure rejects the whole batch. Each accepted row gets the usual
// version bump.
func (s *TaskService) Reorder(ctx context.Context, ownerID primitive.ObjectID, items []models.ReorderItem) ([]models.Task, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: reorder batch must not be empty", ErrValidation)
	}
	if len(items) > 100 {
		return nil, fmt.Errorf("%w: reorder batch exceeds 100 items", ErrValidation)
	}

	tasks := make([]*models.Task, 0, len(items))
	for _, item := range items {
		task, err := s.getOwned(ctx, item.TaskID, ownerID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	now := s.now()
	updated := make([]models.Task, 0, len(items))
	for i, task := range tasks {
		expected := task.SyncVersion
		task.Order = items[i].Order
		task.Touch(now)

		ok, err := s.store.ReplaceVersioned(ctx, task, expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrVersionConflict
		}
		updated = append(updated, *task)
	}
	return updated, nil
}
