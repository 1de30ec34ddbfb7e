package models

// TaskStats aggregates the owner's live tasks for the stats endpoint.
type TaskStats struct {
	Total        int64 `json:"total" bson:"total"`
	Completed    int64 `json:"completed" bson:"completed"`
	Overdue      int64 `json:"overdue" bson:"overdue"`
	HighPriority int64 `json:"highPriority" bson:"highPriority"`
	Urgent       int64 `json:"urgent" bson:"urgent"`
}

// TodayStats counts tasks created since local midnight.
type TodayStats struct {
	Created   int64 `json:"created" bson:"created"`
	Completed int64 `json:"completed" bson:"completed"`
}

// TaskStatsOverview is the payload of GET /api/tasks/stats/overview.
type TaskStatsOverview struct {
	Overall TaskStats  `json:"overall"`
	Today   TodayStats `json:"today"`
}
