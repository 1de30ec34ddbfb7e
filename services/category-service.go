package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/add-xylitol/1.Todo-list/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
)

// CategoryService is plain per-owner CRUD; categories carry no sync
// metadata of their own and ride along as plain strings on tasks.
type CategoryService struct {
	CategoryCollection *mongo.Collection
}

func NewCategoryService(categoryCollection *mongo.Collection) *CategoryService {
	return &CategoryService{CategoryCollection: categoryCollection}
}

func (s *CategoryService) Create(ctx context.Context, ownerID primitive.ObjectID, category *models.Category) (*models.Category, error) {
	if err := category.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	count, err := s.CategoryCollection.CountDocuments(ctx, bson.M{"ownerId": ownerID, "name": category.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing categories: %w", err)
	}
	if count > 0 {
		return nil, ErrCategoryExists
	}

	now := time.Now()
	category.ID = primitive.NewObjectID()
	category.OwnerID = ownerID
	category.CreatedAt = now
	category.UpdatedAt = now

	if _, err := s.CategoryCollection.InsertOne(ctx, category); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return category, nil
}

func (s *CategoryService) List(ctx context.Context, ownerID primitive.ObjectID) ([]models.Category, error) {
	cursor, err := s.CategoryCollection.Find(ctx, bson.M{"ownerId": ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cursor.Close(ctx)

	categories := []models.Category{}
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return categories, nil
}

func (s *CategoryService) Update(ctx context.Context, id, ownerID primitive.ObjectID, fields *models.Category) (*models.Category, error) {
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var category models.Category
	err := s.CategoryCollection.FindOne(ctx, bson.M{"_id": id, "ownerId": ownerID}).Decode(&category)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}

	category.Name = fields.Name
	category.Color = fields.Color
	category.Icon = fields.Icon
	category.Order = fields.Order
	category.UpdatedAt = time.Now()

	_, err = s.CategoryCollection.ReplaceOne(ctx, bson.M{"_id": id, "ownerId": ownerID}, &category)
	if err != nil {
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return &category, nil
}

func (s *CategoryService) Delete(ctx context.Context, id, ownerID primitive.ObjectID) error {
	result, err := s.CategoryCollection.DeleteOne(ctx, bson.M{"_id": id, "ownerId": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCategoryNotFound
	}
	return nil
}
