package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/add-xylitol/1.Todo-list/models"
	"github.com/add-xylitol/1.Todo-list/repositories"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestTaskService(store *memStore) *TaskService {
	s := NewTaskService(store, nil)
	s.now = func() time.Time { return baseTime.Add(time.Hour) }
	return s
}

func TestTaskCreate(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	svc := newTestTaskService(store)

	created, err := svc.Create(context.Background(), owner, &models.Task{Title: "buy milk"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID.IsZero() {
		t.Error("no id assigned")
	}
	if created.SyncVersion != 1 {
		t.Errorf("syncVersion = %d, want 1", created.SyncVersion)
	}
	if created.OwnerID != owner {
		t.Errorf("owner = %s, want %s", created.OwnerID.Hex(), owner.Hex())
	}
	if created.Priority != models.PriorityMedium || created.Category != "default" {
		t.Errorf("defaults not applied: %+v", created)
	}
	if created.LastModified.IsZero() {
		t.Error("lastModified not stamped")
	}
}

func TestTaskCreateValidation(t *testing.T) {
	svc := newTestTaskService(newMemStore())
	owner := primitive.NewObjectID()

	tests := []struct {
		name string
		task models.Task
	}{
		{"empty title", models.Task{}},
		{"title too long", models.Task{Title: string(make([]byte, 201))}},
		{"bad priority", models.Task{Title: "x", Priority: "critical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), owner, &tt.task); !errors.Is(err, ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTaskOwnershipGuard(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	stranger := primitive.NewObjectID()
	task := serverTask(owner, "mine", baseTime, 1)
	store.put(task)
	svc := newTestTaskService(store)

	if _, err := svc.Get(context.Background(), primitive.NewObjectID(), owner); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown id: error = %v, want ErrTaskNotFound", err)
	}
	if _, err := svc.Get(context.Background(), task.ID, stranger); !errors.Is(err, ErrTaskForbidden) {
		t.Errorf("foreign id: error = %v, want ErrTaskForbidden", err)
	}
	got, err := svc.Get(context.Background(), task.ID, owner)
	if err != nil || got.Title != "mine" {
		t.Errorf("own id: got %+v, %v", got, err)
	}
}

// An accepted update advances the version even when no field changed.
func TestTaskUpdateAlwaysBumpsVersion(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "same", baseTime, 5)
	store.put(task)
	svc := newTestTaskService(store)

	identical := task
	updated, err := svc.Update(context.Background(), task.ID, owner, &identical)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.SyncVersion != 6 {
		t.Errorf("syncVersion = %d, want 6", updated.SyncVersion)
	}
	if !updated.LastModified.After(baseTime) {
		t.Errorf("lastModified not advanced: %v", updated.LastModified)
	}
}

func TestTaskUpdateVersionConflict(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "contested", baseTime, 2)
	store.put(task)
	svc := newTestTaskService(store)

	store.beforeReplace = func() {
		racer, _ := store.get(task.ID)
		racer.Touch(baseTime.Add(30 * time.Minute))
		store.put(racer)
	}

	edit := task
	edit.Title = "late edit"
	if _, err := svc.Update(context.Background(), task.ID, owner, &edit); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Update() error = %v, want ErrVersionConflict", err)
	}
}

func TestTaskToggle(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "flip me", baseTime, 1)
	store.put(task)
	svc := newTestTaskService(store)

	toggled, err := svc.Toggle(context.Background(), task.ID, owner)
	if err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	if !toggled.Completed || toggled.CompletedAt == nil {
		t.Errorf("toggle on: completed=%v completedAt=%v", toggled.Completed, toggled.CompletedAt)
	}
	if toggled.SyncVersion != 2 {
		t.Errorf("syncVersion = %d, want 2", toggled.SyncVersion)
	}

	back, err := svc.Toggle(context.Background(), task.ID, owner)
	if err != nil {
		t.Fatalf("second Toggle() error: %v", err)
	}
	if back.Completed || back.CompletedAt != nil {
		t.Errorf("toggle off left completedAt=%v", back.CompletedAt)
	}
}

func TestTaskArchiveRestorePurge(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "lifecycle", baseTime, 1)
	store.put(task)
	svc := newTestTaskService(store)
	ctx := context.Background()

	archived, err := svc.Archive(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("Archive() error: %v", err)
	}
	if !archived.IsDeleted || archived.DeletedAt == nil {
		t.Errorf("tombstone pair inconsistent: isDeleted=%v deletedAt=%v", archived.IsDeleted, archived.DeletedAt)
	}
	if archived.SyncVersion != 2 || !archived.LastModified.After(baseTime) {
		t.Errorf("archive is not a versioned mutation: %+v", archived)
	}

	// Archived rows drop out of the default listing but stay fetchable.
	visible, _, err := svc.List(ctx, owner, repositories.TaskFilter{})
	if err != nil || len(visible) != 0 {
		t.Errorf("archived task still listed: %d rows, %v", len(visible), err)
	}
	all, _, err := svc.List(ctx, owner, repositories.TaskFilter{IncludeDeleted: true})
	if err != nil || len(all) != 1 {
		t.Errorf("archived task missing with includeDeleted: %d rows, %v", len(all), err)
	}

	restored, err := svc.Restore(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored.IsDeleted || restored.DeletedAt != nil {
		t.Errorf("restore left tombstone: %+v", restored)
	}
	if restored.SyncVersion != 3 {
		t.Errorf("syncVersion = %d, want 3", restored.SyncVersion)
	}

	if _, err := svc.Restore(ctx, task.ID, owner); !errors.Is(err, ErrNotArchived) {
		t.Errorf("restoring a live task: error = %v, want ErrNotArchived", err)
	}

	if err := svc.Purge(ctx, task.ID, owner); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	if _, ok := store.get(task.ID); ok {
		t.Error("purged row still present")
	}
	if _, err := svc.Get(ctx, task.ID, owner); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("purged task lookup: error = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskReorder(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	first := serverTask(owner, "first", baseTime, 1)
	first.Order = 0
	second := serverTask(owner, "second", baseTime, 1)
	second.Order = 1
	store.put(first)
	store.put(second)
	svc := newTestTaskService(store)

	updated, err := svc.Reorder(context.Background(), owner, []models.ReorderItem{
		{TaskID: first.ID, Order: 1},
		{TaskID: second.ID, Order: 0},
	})
	if err != nil {
		t.Fatalf("Reorder() error: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("got %d updated rows, want 2", len(updated))
	}
	a, _ := store.get(first.ID)
	b, _ := store.get(second.ID)
	if a.Order != 1 || b.Order != 0 {
		t.Errorf("orders not swapped: %d, %d", a.Order, b.Order)
	}
	if a.SyncVersion != 2 || b.SyncVersion != 2 {
		t.Errorf("reorder rows not version-bumped: %d, %d", a.SyncVersion, b.SyncVersion)
	}
}

// One bad id rejects the whole batch before any row is written.
func TestTaskReorderAllOrNothing(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	mine := serverTask(owner, "mine", baseTime, 1)
	mine.Order = 0
	theirs := serverTask(primitive.NewObjectID(), "theirs", baseTime, 1)
	store.put(mine)
	store.put(theirs)
	svc := newTestTaskService(store)

	_, err := svc.Reorder(context.Background(), owner, []models.ReorderItem{
		{TaskID: mine.ID, Order: 5},
		{TaskID: theirs.ID, Order: 6},
	})
	if !errors.Is(err, ErrTaskForbidden) {
		t.Fatalf("Reorder() error = %v, want ErrTaskForbidden", err)
	}
	unchanged, _ := store.get(mine.ID)
	if unchanged.Order != 0 || unchanged.SyncVersion != 1 {
		t.Errorf("rejected batch still wrote a row: %+v", unchanged)
	}
}

func TestTaskBatchComplete(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	first := serverTask(owner, "one", baseTime, 1)
	second := serverTask(owner, "two", baseTime, 3)
	store.put(first)
	store.put(second)
	svc := newTestTaskService(store)

	updated, err := svc.Batch(context.Background(), owner, BatchActionComplete, []primitive.ObjectID{first.ID, second.ID}, nil)
	if err != nil {
		t.Fatalf("Batch() error: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("got %d updated rows, want 2", len(updated))
	}
	for _, task := range updated {
		if !task.Completed || task.CompletedAt == nil {
			t.Errorf("task %s not completed: %+v", task.Title, task)
		}
	}
	a, _ := store.get(first.ID)
	b, _ := store.get(second.ID)
	if a.SyncVersion != 2 || b.SyncVersion != 4 {
		t.Errorf("batch rows not version-bumped: %d, %d", a.SyncVersion, b.SyncVersion)
	}

	reverted, err := svc.Batch(context.Background(), owner, BatchActionIncomplete, []primitive.ObjectID{first.ID}, nil)
	if err != nil {
		t.Fatalf("Batch(incomplete) error: %v", err)
	}
	if reverted[0].Completed || reverted[0].CompletedAt != nil {
		t.Errorf("incomplete left completedAt: %+v", reverted[0])
	}
}

func TestTaskBatchDeleteTombstones(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "bulk away", baseTime, 1)
	store.put(task)
	svc := newTestTaskService(store)

	updated, err := svc.Batch(context.Background(), owner, BatchActionDelete, []primitive.ObjectID{task.ID}, nil)
	if err != nil {
		t.Fatalf("Batch(delete) error: %v", err)
	}
	if !updated[0].IsDeleted || updated[0].DeletedAt == nil {
		t.Errorf("batch delete did not tombstone: %+v", updated[0])
	}
	if _, ok := store.get(task.ID); !ok {
		t.Error("batch delete removed the row instead of tombstoning it")
	}
}

func TestTaskBatchUpdateFields(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	task := serverTask(owner, "reprioritize", baseTime, 1)
	store.put(task)
	svc := newTestTaskService(store)

	urgent := models.PriorityUrgent
	category := "errands"
	updated, err := svc.Batch(context.Background(), owner, BatchActionUpdate, []primitive.ObjectID{task.ID}, &BatchUpdates{
		Priority: &urgent,
		Category: &category,
	})
	if err != nil {
		t.Fatalf("Batch(update) error: %v", err)
	}
	if updated[0].Priority != models.PriorityUrgent || updated[0].Category != "errands" {
		t.Errorf("updates not applied: %+v", updated[0])
	}
	if updated[0].Title != "reprioritize" {
		t.Errorf("unrelated field changed: %q", updated[0].Title)
	}
}

func TestTaskBatchValidation(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	mine := serverTask(owner, "mine", baseTime, 1)
	theirs := serverTask(primitive.NewObjectID(), "theirs", baseTime, 1)
	archived := serverTask(owner, "archived", baseTime, 1)
	archived.Archive(baseTime)
	store.put(mine)
	store.put(theirs)
	store.put(archived)
	svc := newTestTaskService(store)
	ctx := context.Background()

	if _, err := svc.Batch(ctx, owner, BatchActionComplete, nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty batch: error = %v, want ErrValidation", err)
	}

	big := make([]primitive.ObjectID, 101)
	for i := range big {
		big[i] = primitive.NewObjectID()
	}
	if _, err := svc.Batch(ctx, owner, BatchActionComplete, big, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized batch: error = %v, want ErrValidation", err)
	}

	if _, err := svc.Batch(ctx, owner, "promote", []primitive.ObjectID{mine.ID}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown action: error = %v, want ErrValidation", err)
	}

	if _, err := svc.Batch(ctx, owner, BatchActionUpdate, []primitive.ObjectID{mine.ID}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("update without changes: error = %v, want ErrValidation", err)
	}

	if _, err := svc.Batch(ctx, owner, BatchActionComplete, []primitive.ObjectID{archived.ID}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("archived target: error = %v, want ErrValidation", err)
	}

	// A foreign id rejects the whole batch before any write.
	if _, err := svc.Batch(ctx, owner, BatchActionComplete, []primitive.ObjectID{mine.ID, theirs.ID}, nil); !errors.Is(err, ErrTaskForbidden) {
		t.Errorf("foreign id: error = %v, want ErrTaskForbidden", err)
	}
	untouched, _ := store.get(mine.ID)
	if untouched.Completed || untouched.SyncVersion != 1 {
		t.Errorf("rejected batch still wrote a row: %+v", untouched)
	}
}

type quotaStub struct {
	limit int64
	err   error
}

func (q *quotaStub) TaskLimit(context.Context, primitive.ObjectID) (int64, error) {
	return q.limit, q.err
}

func TestTaskCreateEnforcesPlanQuota(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()
	svc := NewTaskService(store, &quotaStub{limit: 2})
	svc.now = func() time.Time { return baseTime }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Create(ctx, owner, &models.Task{Title: "within quota"}); err != nil {
			t.Fatalf("Create() %d error: %v", i+1, err)
		}
	}
	if _, err := svc.Create(ctx, owner, &models.Task{Title: "over quota"}); !errors.Is(err, ErrTaskLimitReached) {
		t.Fatalf("Create() over quota: error = %v, want ErrTaskLimitReached", err)
	}

	// Archived rows free up quota; the count is over live tasks.
	tasks, _, _ := store.ListByOwner(ctx, owner, repositories.TaskFilter{})
	if _, err := svc.Archive(ctx, tasks[0].ID, owner); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}
	if _, err := svc.Create(ctx, owner, &models.Task{Title: "fits again"}); err != nil {
		t.Errorf("Create() after archive: error = %v", err)
	}
}

func TestTaskStatsOverview(t *testing.T) {
	store := newMemStore()
	owner := primitive.NewObjectID()

	done := serverTask(owner, "done", baseTime, 1)
	done.Completed = true
	done.Priority = models.PriorityHigh
	overdue := serverTask(owner, "overdue", baseTime, 1)
	due := baseTime.Add(-time.Hour)
	overdue.DueDate = &due
	overdue.Priority = models.PriorityUrgent
	gone := serverTask(owner, "archived", baseTime, 1)
	gone.Archive(baseTime)
	for _, task := range []models.Task{done, overdue, gone} {
		store.put(task)
	}

	svc := newTestTaskService(store)
	stats, err := svc.Stats(context.Background(), owner)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Overall.Total != 2 || stats.Overall.Completed != 1 {
		t.Errorf("overall = %+v, want total 2 completed 1 (archived excluded)", stats.Overall)
	}
	if stats.Overall.Overdue != 1 || stats.Overall.HighPriority != 1 || stats.Overall.Urgent != 1 {
		t.Errorf("overall breakdown = %+v", stats.Overall)
	}
	if stats.Today.Created != 2 || stats.Today.Completed != 1 {
		t.Errorf("today = %+v, want created 2 completed 1", stats.Today)
	}
}

func TestTaskReorderBatchLimits(t *testing.T) {
	svc := newTestTaskService(newMemStore())
	owner := primitive.NewObjectID()

	if _, err := svc.Reorder(context.Background(), owner, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty batch: error = %v, want ErrValidation", err)
	}

	big := make([]models.ReorderItem, 101)
	for i := range big {
		big[i] = models.ReorderItem{TaskID: primitive.NewObjectID(), Order: i}
	}
	if _, err := svc.Reorder(context.Background(), owner, big); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized batch: error = %v, want ErrValidation", err)
	}
}
