package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/models"
	"github.com/add-xylitol/1.Todo-list/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/rand"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrResetCodeInvalid    = errors.New("reset code is invalid or expired")
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid or expired")
)

const refreshTokenLifetime = 30 * 24 * time.Hour

// UserService handles accounts: registration, login, password lifecycle
// and the usage counters updated after sync.
type UserService struct {
	UserCollection *mongo.Collection
}

func NewUserService(userCollection *mongo.Collection) *UserService {
	return &UserService{UserCollection: userCollection}
}

// Register creates an account on the free plan.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	user := &models.User{
		Username: strings.TrimSpace(username),
		Email:    strings.ToLower(strings.TrimSpace(email)),
	}
	if err := user.ValidateCredentials(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	count, err := s.UserCollection.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"username": user.Username},
		bson.M{"email": user.Email},
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing users: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user.Password = string(hashed)
	user.Subscription = models.Subscription{Plan: models.PlanFree, Status: models.SubscriptionInactive}
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now

	result, err := s.UserCollection.InsertOne(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	user.ID = result.InsertedID.(primitive.ObjectID)

	logging.Logger.Infof("Event ID: USER_REGISTERED, Description: User %s registered", user.Username)
	return user, nil
}

// Login verifies credentials and issues an access token plus a rotating
// refresh token.
func (s *UserService) Login(ctx context.Context, usernameOrEmail, password string) (string, string, *models.User, error) {
	var user models.User
	filter := bson.M{"$or": bson.A{
		bson.M{"username": usernameOrEmail},
		bson.M{"email": strings.ToLower(usernameOrEmail)},
	}}
	if err := s.UserCollection.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		return "", "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", "", nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := time.Now()
	refreshToken := uuid.NewString()
	refreshExpiry := now.Add(refreshTokenLifetime)
	_, err = s.UserCollection.UpdateByID(ctx, user.ID, bson.M{
		"$set": bson.M{
			"lastLoginAt":         now,
			"updatedAt":           now,
			"refreshToken":        refreshToken,
			"refreshTokenExpires": refreshExpiry,
		},
		"$inc": bson.M{"loginCount": 1},
	})
	if err != nil {
		logging.Logger.Warnf("Event ID: LOGIN_STATS_UPDATE_FAILED, Description: Failed to update login stats for %s: %v", user.Username, err)
	}
	user.LastLoginAt = &now
	user.LoginCount++

	logging.Logger.Infof("Event ID: USER_LOGIN, Description: User %s logged in", user.Username)
	return token, refreshToken, &user, nil
}

// Refresh exchanges a stored refresh token for a fresh access token. The
// refresh token rotates on every use; a stolen old token dies with the
// first legitimate exchange.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if refreshToken == "" {
		return "", "", ErrRefreshTokenInvalid
	}

	var user models.User
	err := s.UserCollection.FindOne(ctx, bson.M{"refreshToken": refreshToken}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if !user.IsActive || user.RefreshTokenExpires == nil || user.RefreshTokenExpires.Before(time.Now()) {
		return "", "", ErrRefreshTokenInvalid
	}

	token, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue token: %w", err)
	}

	now := time.Now()
	rotated := uuid.NewString()
	rotatedExpiry := now.Add(refreshTokenLifetime)
	_, err = s.UserCollection.UpdateByID(ctx, user.ID, bson.M{
		"$set": bson.M{
			"refreshToken":        rotated,
			"refreshTokenExpires": rotatedExpiry,
			"updatedAt":           now,
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return token, rotated, nil
}

func (s *UserService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.UserCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// ChangePassword verifies the old password before storing the new hash.
func (s *UserService) ChangePassword(ctx context.Context, id primitive.ObjectID, oldPassword, newPassword string) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if len(newPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters long", ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.UserCollection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"password": string(hashed), "updatedAt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// StartPasswordReset stores a short-lived 6-digit code and emails it to
// the account address. The response to the caller is the same whether or
// not the account exists.
func (s *UserService) StartPasswordReset(ctx context.Context, email string) error {
	var user models.User
	err := s.UserCollection.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	code := fmt.Sprintf("%06d", rand.Intn(1000000))
	expiry := time.Now().Add(15 * time.Minute)

	_, err = s.UserCollection.UpdateByID(ctx, user.ID, bson.M{
		"$set": bson.M{"passwordResetCode": code, "passwordResetExpires": expiry},
	})
	if err != nil {
		return fmt.Errorf("failed to store reset code: %w", err)
	}

	subject := "Your password reset code"
	body := fmt.Sprintf("Your password reset code is %s. It expires in 15 minutes.", code)
	if err := utils.SendEmail(user.Email, subject, body); err != nil {
		logging.Logger.Warnf("Event ID: RESET_EMAIL_FAILED, Description: Failed to send reset code to %s: %v", user.Email, err)
	}
	return nil
}

// ResetPassword consumes a valid reset code.
func (s *UserService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	var user models.User
	err := s.UserCollection.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrResetCodeInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user.PasswordResetCode == "" || user.PasswordResetCode != code ||
		user.PasswordResetExpires == nil || user.PasswordResetExpires.Before(time.Now()) {
		return ErrResetCodeInvalid
	}
	if len(newPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters long", ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.UserCollection.UpdateByID(ctx, user.ID, bson.M{
		"$set":   bson.M{"password": string(hashed), "updatedAt": time.Now()},
		"$unset": bson.M{"passwordResetCode": "", "passwordResetExpires": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	logging.Logger.Infof("Event ID: PASSWORD_RESET, Description: Password reset for user %s", user.Username)
	return nil
}

// RecordSync implements UsageRecorder.
func (s *UserService) RecordSync(ctx context.Context, userID primitive.ObjectID, totalTasks, completedTasks int64, at time.Time) error {
	_, err := s.UserCollection.UpdateByID(ctx, userID, bson.M{
		"$set": bson.M{
			"usage.totalTasks":     totalTasks,
			"usage.completedTasks": completedTasks,
			"usage.lastSyncAt":     at,
		},
		"$inc": bson.M{"usage.syncCount": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to record sync usage: %w", err)
	}
	return nil
}
