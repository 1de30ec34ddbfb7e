package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Category struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OwnerID   primitive.ObjectID `json:"ownerId" bson:"ownerId"`
	Name      string             `json:"name" bson:"name"`
	Color     string             `json:"color,omitempty" bson:"color,omitempty"`
	Icon      string             `json:"icon,omitempty" bson:"icon,omitempty"`
	Order     int                `json:"order" bson:"order"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

func (c *Category) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("category name must not be empty")
	}
	if len(c.Name) > maxCategoryLen {
		return fmt.Errorf("category name exceeds %d characters", maxCategoryLen)
	}
	return nil
}
