package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/add-xylitol/1.Todo-list/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TaskFilter narrows ListByOwner. Zero values mean "no filter".
type TaskFilter struct {
	Completed      *bool
	Priority       []string
	Category       []string
	Search         string
	IncludeDeleted bool
	Page           int64
	Limit          int64
}

// TaskRepository persists tasks in MongoDB. It is the only place task
// documents are written, and every conditional write goes through
// ReplaceVersioned so concurrent device syncs cannot lose updates.
type TaskRepository struct {
	collection *mongo.Collection
}

func NewTaskRepository(collection *mongo.Collection) *TaskRepository {
	return &TaskRepository{collection: collection}
}

// EnsureIndexes creates the compound indexes the delta and list queries
// depend on.
func (r *TaskRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "lastModified", Value: -1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "isDeleted", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "completed", Value: 1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "clientId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	return nil
}

func (r *TaskRepository) Insert(ctx context.Context, task *models.Task) error {
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	if _, err := r.collection.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// FindByID looks a task up by id alone, unscoped by owner. Callers must
// run the ownership check on the result; scoping the query by owner here
// would make a foreign id indistinguishable from a missing one.
func (r *TaskRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Task, error) {
	var task models.Task
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

// ModifiedSince returns the owner's delta: every task, tombstoned or not,
// whose lastModified is strictly after the checkpoint, newest first.
func (r *TaskRepository) ModifiedSince(ctx context.Context, ownerID primitive.ObjectID, since time.Time) ([]models.Task, error) {
	filter := bson.M{
		"ownerId":      ownerID,
		"lastModified": bson.M{"$gt": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "lastModified", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query task delta: %w", err)
	}
	defer cursor.Close(ctx)

	tasks := []models.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode task delta: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID primitive.ObjectID, filter TaskFilter) ([]models.Task, int64, error) {
	query := bson.M{"ownerId": ownerID}
	if !filter.IncludeDeleted {
		query["isDeleted"] = false
	}
	if filter.Completed != nil {
		query["completed"] = *filter.Completed
	}
	if len(filter.Priority) > 0 {
		query["priority"] = bson.M{"$in": filter.Priority}
	}
	if len(filter.Category) > 0 {
		query["category"] = bson.M{"$in": filter.Category}
	}
	if filter.Search != "" {
		regex := primitive.Regex{Pattern: filter.Search, Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": regex},
			bson.M{"description": regex},
			bson.M{"category": regex},
			bson.M{"tags": regex},
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "order", Value: 1}, {Key: "createdAt", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	tasks := []models.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, 0, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, total, nil
}

// ReplaceVersioned writes the full task document if and only if the stored
// row still carries expectedVersion. A false return means the row moved
// underneath the caller (or vanished) since it was read.
func (r *TaskRepository) ReplaceVersioned(ctx context.Context, task *models.Task, expectedVersion int64) (bool, error) {
	filter := bson.M{
		"_id":         task.ID,
		"ownerId":     task.OwnerID,
		"syncVersion": expectedVersion,
	}
	result, err := r.collection.ReplaceOne(ctx, filter, task)
	if err != nil {
		return false, fmt.Errorf("failed to replace task: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// Delete physically removes the row. After this the tombstone is gone and
// devices that never saw the soft-delete will keep their local copy.
func (r *TaskRepository) Delete(ctx context.Context, id, ownerID primitive.ObjectID) (bool, error) {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "ownerId": ownerID})
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	return result.DeletedCount == 1, nil
}

// StatsByOwner aggregates the owner's live rows into the stats overview:
// overall totals plus the tasks created since midnight of the given day.
func (r *TaskRepository) StatsByOwner(ctx context.Context, ownerID primitive.ObjectID, now time.Time) (*models.TaskStatsOverview, error) {
	overview := &models.TaskStatsOverview{}

	overallPipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ownerId": ownerID, "isDeleted": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":       nil,
			"total":     bson.M{"$sum": 1},
			"completed": bson.M{"$sum": bson.M{"$cond": bson.A{"$completed", 1, 0}}},
			"overdue": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$dueDate", nil}},
					bson.M{"$lt": bson.A{"$dueDate", now}},
					bson.M{"$eq": bson.A{"$completed", false}},
				}}, 1, 0,
			}}},
			"highPriority": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$priority", "high"}}, 1, 0}}},
			"urgent":       bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$priority", "urgent"}}, 1, 0}}},
		}}},
	}
	cursor, err := r.collection.Aggregate(ctx, overallPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate task stats: %w", err)
	}
	var overall []models.TaskStats
	if err := cursor.All(ctx, &overall); err != nil {
		return nil, fmt.Errorf("failed to decode task stats: %w", err)
	}
	if len(overall) > 0 {
		overview.Overall = overall[0]
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	todayPipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ownerId":   ownerID,
			"isDeleted": false,
			"createdAt": bson.M{"$gte": dayStart, "$lt": dayEnd},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":       nil,
			"created":   bson.M{"$sum": 1},
			"completed": bson.M{"$sum": bson.M{"$cond": bson.A{"$completed", 1, 0}}},
		}}},
	}
	cursor, err = r.collection.Aggregate(ctx, todayPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate today's task stats: %w", err)
	}
	var today []models.TodayStats
	if err := cursor.All(ctx, &today); err != nil {
		return nil, fmt.Errorf("failed to decode today's task stats: %w", err)
	}
	if len(today) > 0 {
		overview.Today = today[0]
	}
	return overview, nil
}

// CountByOwner returns (total, completed) over live rows, for usage stats.
func (r *TaskRepository) CountByOwner(ctx context.Context, ownerID primitive.ObjectID) (int64, int64, error) {
	base := bson.M{"ownerId": ownerID, "isDeleted": false}
	total, err := r.collection.CountDocuments(ctx, base)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	completedQuery := bson.M{"ownerId": ownerID, "isDeleted": false, "completed": true}
	completed, err := r.collection.CountDocuments(ctx, completedQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count completed tasks: %w", err)
	}
	return total, completed, nil
}
