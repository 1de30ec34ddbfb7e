package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/add-xylitol/1.Todo-list/middleware"
	"github.com/add-xylitol/1.Todo-list/models"
	"github.com/add-xylitol/1.Todo-list/repositories"
	"github.com/add-xylitol/1.Todo-list/services"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TaskHandler struct {
	service     *services.TaskService
	syncService *services.SyncService
}

func NewTaskHandler(service *services.TaskService, syncService *services.SyncService) *TaskHandler {
	return &TaskHandler{service: service, syncService: syncService}
}

func ownerAndTaskID(w http.ResponseWriter, r *http.Request) (ownerID, taskID primitive.ObjectID, ok bool) {
	ownerID, found := middleware.UserID(r)
	if !found {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return ownerID, taskID, false
	}
	taskID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task ID format")
		return ownerID, taskID, false
	}
	return ownerID, taskID, true
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	q := r.URL.Query()
	filter := repositories.TaskFilter{
		Search:         q.Get("search"),
		IncludeDeleted: q.Get("includeDeleted") == "true",
	}
	if v := q.Get("completed"); v != "" {
		completed := v == "true"
		filter.Completed = &completed
	}
	if v := q.Get("priority"); v != "" {
		filter.Priority = strings.Split(v, ",")
	}
	if v := q.Get("category"); v != "" {
		filter.Category = strings.Split(v, ",")
	}
	filter.Page, _ = strconv.ParseInt(q.Get("page"), 10, 64)
	filter.Limit, _ = strconv.ParseInt(q.Get("limit"), 10, 64)

	tasks, total, err := h.service.List(r.Context(), ownerID, filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": total,
	})
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Get(r.Context(), taskID, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	created, err := h.service.Create(r.Context(), ownerID, &task)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"task": created})
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}

	var fields models.Task
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	task, err := h.service.Update(r.Context(), taskID, ownerID, &fields)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Toggle(r.Context(), taskID, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

// ArchiveTask handles DELETE /api/tasks/{id}: a soft delete. The row is
// tombstoned, not removed, so other devices learn of it via sync.
func (h *TaskHandler) ArchiveTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Archive(r.Context(), taskID, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

func (h *TaskHandler) RestoreTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Restore(r.Context(), taskID, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

func (h *TaskHandler) PurgeTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := ownerAndTaskID(w, r)
	if !ok {
		return
	}
	if err := h.service.Purge(r.Context(), taskID, ownerID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Task permanently deleted"})
}

// ReorderTasks handles the drag-reorder batch. The batch is rejected as a
// whole when any id fails the ownership check.
func (h *TaskHandler) ReorderTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var request struct {
		Tasks []models.ReorderItem `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updated, err := h.service.Reorder(r.Context(), ownerID, request.Tasks)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": updated})
}

// BatchTasks handles PATCH /api/tasks/batch/action: bulk
// complete/incomplete/delete/update over up to 100 owned tasks,
// all-or-nothing like reorder.
func (h *TaskHandler) BatchTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var request struct {
		TaskIDs []primitive.ObjectID   `json:"taskIds"`
		Action  services.BatchAction   `json:"action"`
		Updates *services.BatchUpdates `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updated, err := h.service.Batch(r.Context(), ownerID, request.Action, request.TaskIDs, request.Updates)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"affectedCount": len(updated),
		"tasks":         updated,
	})
}

// TaskStats handles GET /api/tasks/stats/overview.
func (h *TaskHandler) TaskStats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	stats, err := h.service.Stats(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// SyncTasks handles POST /api/tasks/sync. A missing or invalid
// lastSyncTime is rejected before anything is touched, so the request is
// fully retryable.
func (h *TaskHandler) SyncTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var request models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if request.LastSyncTime == nil || request.LastSyncTime.IsZero() {
		respondError(w, http.StatusBadRequest, "lastSyncTime is required")
		return
	}
	if request.LastSyncTime.After(time.Now().Add(time.Minute)) {
		respondError(w, http.StatusBadRequest, "lastSyncTime must not be in the future")
		return
	}

	result, err := h.syncService.Sync(r.Context(), ownerID, *request.LastSyncTime, request.ClientTasks)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
