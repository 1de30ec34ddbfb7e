package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Subtask is embedded in its parent task and carries no sync metadata of
// its own; the parent's lastModified/syncVersion cover it.
type Subtask struct {
	Title       string     `json:"title" bson:"title"`
	Completed   bool       `json:"completed" bson:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	Order       int        `json:"order" bson:"order"`
}

// Task is the server-of-record task row. lastModified and syncVersion are
// assigned exclusively by the server (through Touch); clients only echo
// their cached copies back for comparison during sync.
type Task struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OwnerID     primitive.ObjectID `json:"ownerId" bson:"ownerId"`
	Title       string             `json:"title" bson:"title"`
	Description string             `json:"description" bson:"description"`
	Completed   bool               `json:"completed" bson:"completed"`
	CompletedAt *time.Time         `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	Priority    Priority           `json:"priority" bson:"priority"`
	DueDate     *time.Time         `json:"dueDate,omitempty" bson:"dueDate,omitempty"`
	Category    string             `json:"category" bson:"category"`
	Tags        []string           `json:"tags" bson:"tags"`
	Subtasks    []Subtask          `json:"subtasks,omitempty" bson:"subtasks,omitempty"`
	Order       int                `json:"order" bson:"order"`

	// Sync metadata.
	ClientID     string    `json:"clientId,omitempty" bson:"clientId,omitempty"`
	LastModified time.Time `json:"lastModified" bson:"lastModified"`
	SyncVersion  int64     `json:"syncVersion" bson:"syncVersion"`

	// Tombstone pair. Mutated only through Archive/Restore so that the
	// flag and the timestamp can never disagree.
	IsDeleted bool       `json:"isDeleted" bson:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
	maxCategoryLen    = 50
	maxTagLen         = 30
	maxTags           = 10
	maxSubtasks       = 20
)

// Validate checks the client-settable fields against the same limits the
// clients enforce locally.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("task title must not be empty")
	}
	if len(t.Title) > maxTitleLen {
		return fmt.Errorf("task title exceeds %d characters", maxTitleLen)
	}
	if len(t.Description) > maxDescriptionLen {
		return fmt.Errorf("task description exceeds %d characters", maxDescriptionLen)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if len(t.Category) > maxCategoryLen {
		return fmt.Errorf("category name exceeds %d characters", maxCategoryLen)
	}
	if len(t.Tags) > maxTags {
		return fmt.Errorf("at most %d tags are allowed", maxTags)
	}
	for _, tag := range t.Tags {
		if len(tag) > maxTagLen {
			return fmt.Errorf("tag %q exceeds %d characters", tag, maxTagLen)
		}
	}
	if len(t.Subtasks) > maxSubtasks {
		return fmt.Errorf("at most %d subtasks are allowed", maxSubtasks)
	}
	for _, st := range t.Subtasks {
		if st.Title == "" {
			return fmt.Errorf("subtask title must not be empty")
		}
	}
	if t.IsDeleted != (t.DeletedAt != nil) {
		return fmt.Errorf("inconsistent tombstone: isDeleted=%v deletedAt=%v", t.IsDeleted, t.DeletedAt)
	}
	return nil
}

// Touch records an accepted mutation: the server stamps lastModified and
// bumps syncVersion by exactly one.
func (t *Task) Touch(now time.Time) {
	t.TouchAt(now, now)
}

// TouchAt records an accepted mutation with an explicit watermark. The
// sync engine uses it to store the client's reported modification time on
// applied edits: repeating the identical request then decides NoOp
// instead of conflicting with the server's own write.
func (t *Task) TouchAt(watermark, now time.Time) {
	t.LastModified = watermark
	t.UpdatedAt = now
	t.SyncVersion++
}

// ToggleComplete flips completion and keeps completedAt paired with it.
func (t *Task) ToggleComplete(now time.Time) {
	t.Completed = !t.Completed
	if t.Completed {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	t.Touch(now)
}

// Archive tombstones the task. The row stays a full record and keeps
// advancing lastModified so other devices learn of the deletion through
// ordinary delta sync.
func (t *Task) Archive(now time.Time) {
	t.IsDeleted = true
	at := now
	t.DeletedAt = &at
	t.Touch(now)
}

// Restore clears the tombstone while it still exists.
func (t *Task) Restore(now time.Time) {
	t.IsDeleted = false
	t.DeletedAt = nil
	t.Touch(now)
}

// Deleted reports whether the task is tombstoned.
func (t *Task) Deleted() bool {
	return t.IsDeleted
}

// ApplyClientFields performs the whole-record overwrite used by sync: every
// client-settable field is taken from c, while identity and server-owned
// metadata (id, owner, lastModified, syncVersion, createdAt) stay put.
func (t *Task) ApplyClientFields(c *Task) {
	t.Title = c.Title
	t.Description = c.Description
	t.Completed = c.Completed
	t.CompletedAt = c.CompletedAt
	t.Priority = c.Priority
	t.DueDate = c.DueDate
	t.Category = c.Category
	t.Tags = c.Tags
	t.Subtasks = c.Subtasks
	t.Order = c.Order
	t.ClientID = c.ClientID
	t.IsDeleted = c.IsDeleted
	t.DeletedAt = c.DeletedAt
}

// NormalizeDefaults fills the defaults the original clients rely on.
func (t *Task) NormalizeDefaults() {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Category == "" {
		t.Category = "default"
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}
