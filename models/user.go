package models

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SubscriptionPlan string

const (
	PlanFree    SubscriptionPlan = "free"
	PlanPremium SubscriptionPlan = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

type Subscription struct {
	Plan           SubscriptionPlan   `json:"plan" bson:"plan"`
	Status         SubscriptionStatus `json:"status" bson:"status"`
	StartDate      *time.Time         `json:"startDate,omitempty" bson:"startDate,omitempty"`
	EndDate        *time.Time         `json:"endDate,omitempty" bson:"endDate,omitempty"`
	CustomerID     string             `json:"-" bson:"customerId,omitempty"`
	SubscriptionID string             `json:"-" bson:"subscriptionId,omitempty"`
	AutoRenew      bool               `json:"autoRenew" bson:"autoRenew"`
}

type Profile struct {
	FirstName string `json:"firstName,omitempty" bson:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty" bson:"lastName,omitempty"`
	Timezone  string `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Language  string `json:"language,omitempty" bson:"language,omitempty"`
}

// Usage tracks per-account counters surfaced on the stats endpoint and
// updated after every successful sync.
type Usage struct {
	TotalTasks     int        `json:"totalTasks" bson:"totalTasks"`
	CompletedTasks int        `json:"completedTasks" bson:"completedTasks"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty" bson:"lastSyncAt,omitempty"`
	SyncCount      int        `json:"syncCount" bson:"syncCount"`
}

type User struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Username     string             `json:"username" bson:"username"`
	Email        string             `json:"email" bson:"email"`
	Password     string             `json:"-" bson:"password"`
	Profile      Profile            `json:"profile" bson:"profile"`
	Subscription Subscription       `json:"subscription" bson:"subscription"`
	Usage        Usage              `json:"usage" bson:"usage"`
	IsActive     bool               `json:"isActive" bson:"isActive"`

	PasswordResetCode    string     `json:"-" bson:"passwordResetCode,omitempty"`
	PasswordResetExpires *time.Time `json:"-" bson:"passwordResetExpires,omitempty"`

	RefreshToken        string     `json:"-" bson:"refreshToken,omitempty"`
	RefreshTokenExpires *time.Time `json:"-" bson:"refreshTokenExpires,omitempty"`

	LastLoginAt  *time.Time         `json:"lastLoginAt,omitempty" bson:"lastLoginAt,omitempty"`
	LoginCount   int                `json:"loginCount" bson:"loginCount"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidateCredentials checks the registration input before hashing.
func (u *User) ValidateCredentials(plainPassword string) error {
	if !usernameRe.MatchString(u.Username) {
		return fmt.Errorf("username must be 3-30 characters of letters, digits and underscores")
	}
	if !emailRe.MatchString(u.Email) {
		return fmt.Errorf("invalid email address")
	}
	if len(plainPassword) < 6 {
		return fmt.Errorf("password must be at least 6 characters long")
	}
	return nil
}

// IsPremium reports whether the subscription entitles the user to premium
// features at the given instant.
func (u *User) IsPremium(now time.Time) bool {
	s := u.Subscription
	return s.Plan == PlanPremium &&
		s.Status == SubscriptionActive &&
		s.EndDate != nil && s.EndDate.After(now)
}
