package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/models"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrPaymentNotVerified = errors.New("payment could not be verified")

// Plan describes one entry of the public plan catalog.
type Plan struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    int      `json:"price"` // cents per month
	Features []string `json:"features"`
}

// Task quotas per plan, matching the catalog below.
const (
	freeTaskLimit    = 100
	premiumTaskLimit = 1000
)

// Plans is the static catalog served on /api/subscriptions/plans.
var Plans = []Plan{
	{ID: "free", Name: "Free", Price: 0, Features: []string{"Up to 100 tasks", "Single device"}},
	{ID: "premium", Name: "Premium", Price: 499, Features: []string{"Up to 1000 tasks", "Multi-device sync", "Priority support"}},
}

// SubscriptionStatus is the payload of GET /api/subscriptions/status.
type SubscriptionStatusInfo struct {
	Subscription models.Subscription `json:"subscription"`
	IsPremium    bool                `json:"isPremium"`
	DaysLeft     int                 `json:"daysLeft"`
}

// SubscriptionService gates premium features and talks to the external
// billing provider. Provider calls run behind a circuit breaker; when the
// provider is unreachable the cached subscription state in Mongo decides.
type SubscriptionService struct {
	UserCollection *mongo.Collection
	HTTPClient     *http.Client
	BillingBreaker *gobreaker.CircuitBreaker
	BillingAPIURL  string
}

func NewSubscriptionService(userCollection *mongo.Collection, httpClient *http.Client, breaker *gobreaker.CircuitBreaker, billingAPIURL string) *SubscriptionService {
	return &SubscriptionService{
		UserCollection: userCollection,
		HTTPClient:     httpClient,
		BillingBreaker: breaker,
		BillingAPIURL:  billingAPIURL,
	}
}

// IsPremium reports whether the user currently holds an active premium
// subscription, judged on the cached state.
func (s *SubscriptionService) IsPremium(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	var user models.User
	if err := s.UserCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return user.IsPremium(time.Now()), nil
}

// TaskLimit implements the task quota: how many live tasks the user's
// current plan allows.
func (s *SubscriptionService) TaskLimit(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	premium, err := s.IsPremium(ctx, userID)
	if err != nil {
		return 0, err
	}
	if premium {
		return premiumTaskLimit, nil
	}
	return freeTaskLimit, nil
}

// Status returns the subscription details for the account page.
func (s *SubscriptionService) Status(ctx context.Context, userID primitive.ObjectID) (*SubscriptionStatusInfo, error) {
	var user models.User
	if err := s.UserCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	now := time.Now()
	info := &SubscriptionStatusInfo{
		Subscription: user.Subscription,
		IsPremium:    user.IsPremium(now),
	}
	if info.IsPremium && user.Subscription.EndDate != nil {
		info.DaysLeft = int(user.Subscription.EndDate.Sub(now).Hours()/24) + 1
	}
	return info, nil
}

type billingVerification struct {
	Verified  bool      `json:"verified"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyPayment asks the billing provider whether the given payment
// reference is settled and, if so, activates premium until the provider's
// expiry date. The provider call goes through the circuit breaker; while
// the breaker is open the cached subscription state stays authoritative
// and the caller gets a retryable error.
func (s *SubscriptionService) VerifyPayment(ctx context.Context, userID primitive.ObjectID, paymentRef string) (*models.Subscription, error) {
	if paymentRef == "" {
		return nil, fmt.Errorf("%w: payment reference must not be empty", ErrValidation)
	}

	verification, err := s.BillingBreaker.Execute(func() (interface{}, error) {
		return s.fetchVerification(ctx, paymentRef)
	})
	if err != nil {
		logging.Logger.Warnf("Event ID: BILLING_VERIFY_FAILED, Description: Billing verification for user %s failed: %v", userID.Hex(), err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
	}

	v := verification.(*billingVerification)
	if !v.Verified {
		return nil, ErrPaymentNotVerified
	}

	now := time.Now()
	sub := models.Subscription{
		Plan:      models.PlanPremium,
		Status:    models.SubscriptionActive,
		StartDate: &now,
		EndDate:   &v.ExpiresAt,
		AutoRenew: true,
	}
	_, err = s.UserCollection.UpdateByID(ctx, userID, bson.M{
		"$set": bson.M{"subscription": sub, "updatedAt": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}

	logging.Logger.Infof("Event ID: SUBSCRIPTION_ACTIVATED, Description: Premium activated for user %s until %s", userID.Hex(), v.ExpiresAt.Format(time.RFC3339))
	return &sub, nil
}

func (s *SubscriptionService) fetchVerification(ctx context.Context, paymentRef string) (*billingVerification, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", s.BillingAPIURL, paymentRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("billing provider returned status %d", resp.StatusCode)
	}

	var v billingVerification
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode billing response: %w", err)
	}
	return &v, nil
}
