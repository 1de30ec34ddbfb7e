package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SyncRequest is what a device submits to POST /api/tasks/sync:
// its checkpoint plus every task it touched locally since then.
type SyncRequest struct {
	LastSyncTime *time.Time `json:"lastSyncTime"`
	ClientTasks  []Task     `json:"clientTasks"`
}

// SyncConflict pairs the two divergent versions of a task. The engine never
// merges them; the caller resolves and re-submits.
type SyncConflict struct {
	TaskID        primitive.ObjectID `json:"taskId"`
	ServerVersion Task               `json:"serverVersion"`
	ClientVersion Task               `json:"clientVersion"`
}

// SyncResult is the consolidated outcome of one sync call. ServerTasks is
// the delta the client has not seen, Updates the rows created or
// overwritten on its behalf, and SyncTime the next checkpoint to store.
type SyncResult struct {
	ServerTasks []Task         `json:"serverTasks"`
	Conflicts   []SyncConflict `json:"conflicts"`
	Updates     []Task         `json:"updates"`
	SyncTime    time.Time      `json:"syncTime"`
}

// ReorderItem is one row of a drag-reorder batch.
type ReorderItem struct {
	TaskID primitive.ObjectID `json:"taskId"`
	Order  int                `json:"order"`
}
