package services

import (
	"context"
	"sync"
	"time"

	"github.com/add-xylitol/1.Todo-list/models"
	"github.com/add-xylitol/1.Todo-list/repositories"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/slices"
)

// memStore is an in-memory TaskStore with the same conditional-write
// semantics as the Mongo repository.
type memStore struct {
	mu    sync.Mutex
	tasks map[primitive.ObjectID]models.Task

	// failWith, when set, is returned by the next store call.
	failWith error
	// beforeReplace runs inside ReplaceVersioned before the version check,
	// to simulate a concurrent writer sneaking in between read and write.
	beforeReplace func()
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[primitive.ObjectID]models.Task)}
}

func (m *memStore) takeErr() error {
	err := m.failWith
	m.failWith = nil
	return err
}

func (m *memStore) put(task models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
}

func (m *memStore) get(id primitive.ObjectID) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task, ok
}

func (m *memStore) Insert(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	m.tasks[task.ID] = *task
	return nil
}

func (m *memStore) FindByID(_ context.Context, id primitive.ObjectID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	task, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	copy := task
	return &copy, nil
}

func (m *memStore) ModifiedSince(_ context.Context, ownerID primitive.ObjectID, since time.Time) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	result := []models.Task{}
	for _, task := range m.tasks {
		if task.OwnerID == ownerID && task.LastModified.After(since) {
			result = append(result, task)
		}
	}
	slices.SortFunc(result, func(a, b models.Task) int {
		return b.LastModified.Compare(a.LastModified)
	})
	return result, nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID primitive.ObjectID, filter repositories.TaskFilter) ([]models.Task, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, 0, err
	}
	result := []models.Task{}
	for _, task := range m.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		if !filter.IncludeDeleted && task.IsDeleted {
			continue
		}
		if filter.Completed != nil && task.Completed != *filter.Completed {
			continue
		}
		result = append(result, task)
	}
	slices.SortFunc(result, func(a, b models.Task) int {
		return a.Order - b.Order
	})
	return result, int64(len(result)), nil
}

func (m *memStore) ReplaceVersioned(_ context.Context, task *models.Task, expectedVersion int64) (bool, error) {
	if m.beforeReplace != nil {
		hook := m.beforeReplace
		m.beforeReplace = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return false, err
	}
	current, ok := m.tasks[task.ID]
	if !ok || current.OwnerID != task.OwnerID || current.SyncVersion != expectedVersion {
		return false, nil
	}
	m.tasks[task.ID] = *task
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id, ownerID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return false, err
	}
	task, ok := m.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return false, nil
	}
	delete(m.tasks, id)
	return true, nil
}

func (m *memStore) StatsByOwner(_ context.Context, ownerID primitive.ObjectID, now time.Time) (*models.TaskStatsOverview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	overview := &models.TaskStatsOverview{}
	for _, task := range m.tasks {
		if task.OwnerID != ownerID || task.IsDeleted {
			continue
		}
		overview.Overall.Total++
		if task.Completed {
			overview.Overall.Completed++
		}
		if task.DueDate != nil && task.DueDate.Before(now) && !task.Completed {
			overview.Overall.Overdue++
		}
		switch task.Priority {
		case models.PriorityHigh:
			overview.Overall.HighPriority++
		case models.PriorityUrgent:
			overview.Overall.Urgent++
		}
		if !task.CreatedAt.Before(dayStart) && task.CreatedAt.Before(dayStart.AddDate(0, 0, 1)) {
			overview.Today.Created++
			if task.Completed {
				overview.Today.Completed++
			}
		}
	}
	return overview, nil
}

func (m *memStore) CountByOwner(_ context.Context, ownerID primitive.ObjectID) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return 0, 0, err
	}
	var total, completed int64
	for _, task := range m.tasks {
		if task.OwnerID != ownerID || task.IsDeleted {
			continue
		}
		total++
		if task.Completed {
			completed++
		}
	}
	return total, completed, nil
}
