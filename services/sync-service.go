package services

import (
	"context"
	"fmt"
	"time"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/slices"
)

// SyncAction is the Conflict Detector's verdict for one client task.
type SyncAction int

const (
	// ActionCreate: no server row exists; the client made the task offline.
	ActionCreate SyncAction = iota
	// ActionOverwrite: the client edit is newer; whole-record last-writer-wins.
	ActionOverwrite
	// ActionConflict: the server edit is newer; both versions are returned
	// for the caller to resolve, the row stays untouched.
	ActionConflict
	// ActionNoOp: timestamps are equal. Ties favor the server: no write.
	ActionNoOp
)

// decide compares a client task's claimed modification time against the
// server row. It is deliberately a whole-record decision on lastModified
// alone; there is no field-level merging anywhere in this engine.
func decide(serverTask *models.Task, clientModified time.Time) SyncAction {
	if serverTask == nil {
		return ActionCreate
	}
	if serverTask.LastModified.After(clientModified) {
		return ActionConflict
	}
	if serverTask.LastModified.Before(clientModified) {
		return ActionOverwrite
	}
	return ActionNoOp
}

// UsageRecorder lets the sync service report a completed pass to the
// account's usage counters without depending on the user service directly.
type UsageRecorder interface {
	RecordSync(ctx context.Context, userID primitive.ObjectID, totalTasks, completedTasks int64, at time.Time) error
}

// SyncService reconciles a device's locally-cached task snapshot with the
// server of record. One call is one logical unit of work over a single
// user's task set; calls for different users are fully independent.
type SyncService struct {
	store TaskStore
	usage UsageRecorder
	now   func() time.Time
}

// NewSyncService creates the coordinator. usage may be nil; usage
// accounting is best-effort and never fails a sync.
func NewSyncService(store TaskStore, usage UsageRecorder) *SyncService {
	return &SyncService{store: store, usage: usage, now: time.Now}
}

// Sync runs one synchronization request:
//
//  1. Collect the server delta: every task of the owner (tombstoned rows
//     included) modified strictly after lastSyncTime, newest first. The
//     delta is re-derived from the checkpoint on every call, so retrying
//     the same request is safe.
//  2. Run each client-submitted task through the ownership guard and the
//     conflict decision, applying creates and overwrites and collecting
//     conflicts. Overwrites are conditional on the syncVersion the
//     decision was based on; if the row moved underneath us the item is
//     failed over into the conflict list instead of clobbering the newer
//     write.
//  3. Stamp the result with a fresh syncTime for the client to store as
//     its next checkpoint.
//
// A storage error aborts the remaining batch; items already applied stay
// applied, and the client's retry with the same checkpoint converges
// (already-equal records decide to NoOp).
func (s *SyncService) Sync(ctx context.Context, ownerID primitive.ObjectID, lastSyncTime time.Time, clientTasks []models.Task) (*models.SyncResult, error) {
	delta, err := s.store.ModifiedSince(ctx, ownerID, lastSyncTime)
	if err != nil {
		return nil, err
	}

	// Rows the client submitted itself are excluded from the delta: the
	// client already holds a version of those and learns the outcome
	// through updates or conflicts. This also keeps an immediate retry
	// byte-identical.
	submitted := make(map[primitive.ObjectID]bool, len(clientTasks))
	for i := range clientTasks {
		if !clientTasks[i].ID.IsZero() {
			submitted[clientTasks[i].ID] = true
		}
	}
	serverTasks := make([]models.Task, 0, len(delta))
	for _, task := range delta {
		if !submitted[task.ID] {
			serverTasks = append(serverTasks, task)
		}
	}
	// The repository already sorts; keep the invariant even for stores
	// that do not.
	slices.SortFunc(serverTasks, func(a, b models.Task) int {
		return b.LastModified.Compare(a.LastModified)
	})

	result := &models.SyncResult{
		ServerTasks: serverTasks,
		Conflicts:   []models.SyncConflict{},
		Updates:     []models.Task{},
	}

	for i := range clientTasks {
		if err := s.syncOne(ctx, ownerID, &clientTasks[i], result); err != nil {
			return nil, err
		}
	}

	result.SyncTime = s.now()

	if s.usage != nil {
		total, completed, err := s.store.CountByOwner(ctx, ownerID)
		if err == nil {
			err = s.usage.RecordSync(ctx, ownerID, total, completed, result.SyncTime)
		}
		if err != nil {
			logging.Logger.Warnf("Event ID: SYNC_USAGE_UPDATE_FAILED, Description: Failed to record sync usage for user %s: %v", ownerID.Hex(), err)
		}
	}

	logging.Logger.Infof("Event ID: SYNC_COMPLETED, Description: Sync for user %s: %d server, %d updates, %d conflicts",
		ownerID.Hex(), len(result.ServerTasks), len(result.Updates), len(result.Conflicts))
	return result, nil
}

func (s *SyncService) syncOne(ctx context.Context, ownerID primitive.ObjectID, client *models.Task, result *models.SyncResult) error {
	server, err := s.lookup(ctx, ownerID, client.ID)
	if err != nil {
		return err
	}

	switch decide(server, client.LastModified) {
	case ActionCreate:
		created, err := s.createFromClient(ctx, ownerID, client)
		if err != nil {
			return err
		}
		result.Updates = append(result.Updates, *created)

	case ActionOverwrite:
		client.NormalizeDefaults()
		if err := client.Validate(); err != nil {
			return fmt.Errorf("%w: task %s: %v", ErrValidation, client.ID.Hex(), err)
		}

		expected := server.SyncVersion
		server.ApplyClientFields(client)
		// The client's reported modification time becomes the stored
		// watermark, so re-submitting the same edit decides NoOp.
		server.TouchAt(client.LastModified, s.now())

		ok, err := s.store.ReplaceVersioned(ctx, server, expected)
		if err != nil {
			return err
		}
		if !ok {
			// The row moved between our read and the conditional write:
			// another device got there first. Re-read and surface the
			// current server version as a conflict rather than retrying
			// the overwrite.
			current, err := s.lookup(ctx, ownerID, client.ID)
			if err != nil {
				return err
			}
			if current != nil {
				result.Conflicts = append(result.Conflicts, models.SyncConflict{
					TaskID:        current.ID,
					ServerVersion: *current,
					ClientVersion: *client,
				})
			}
			return nil
		}
		result.Updates = append(result.Updates, *server)

	case ActionConflict:
		result.Conflicts = append(result.Conflicts, models.SyncConflict{
			TaskID:        server.ID,
			ServerVersion: *server,
			ClientVersion: *client,
		})

	case ActionNoOp:
		// Equal timestamps: the server copy stands, nothing to report.
	}
	return nil
}

// lookup resolves a client-submitted id. The id is looked up unscoped
// first: a row owned by someone else is a Forbidden failure for the whole
// request, never a silent fall-through into the create path.
func (s *SyncService) lookup(ctx context.Context, ownerID, id primitive.ObjectID) (*models.Task, error) {
	if id.IsZero() {
		return nil, nil
	}
	task, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	if task.OwnerID != ownerID {
		logging.Logger.Warnf("Event ID: SYNC_OWNERSHIP_VIOLATION, Description: User %s submitted task %s owned by another user", ownerID.Hex(), id.Hex())
		return nil, ErrTaskForbidden
	}
	return task, nil
}

// createFromClient inserts a task the server has never seen, keeping the
// client-chosen id (when present) so subsequent syncs of the same id find
// the row.
func (s *SyncService) createFromClient(ctx context.Context, ownerID primitive.ObjectID, client *models.Task) (*models.Task, error) {
	client.NormalizeDefaults()
	if err := client.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now()
	watermark := client.LastModified
	if watermark.IsZero() {
		watermark = now
	}

	task := &models.Task{ID: client.ID, OwnerID: ownerID}
	task.ApplyClientFields(client)
	task.SyncVersion = 1
	task.LastModified = watermark
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.store.Insert(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
