package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserID extracts the authenticated user's id from the request context.
func UserID(r *http.Request) (primitive.ObjectID, bool) {
	id, ok := r.Context().Value(userIDKey).(primitive.ObjectID)
	return id, ok
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]interface{}{"success": false, "error": message}
	if code != "" {
		payload["code"] = code
	}
	json.NewEncoder(w).Encode(payload)
}

// Authenticate validates the Bearer token and stores the user id in the
// request context for the handlers downstream.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header missing", "")
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			writeError(w, http.StatusUnauthorized, "Authorization header must use the Bearer scheme", "")
			return
		}

		userID, err := utils.UserIDFromToken(tokenStr)
		if err != nil {
			logging.Logger.Warnf("Event ID: AUTH_INVALID_TOKEN, Description: Invalid token for %s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "Invalid token", "")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PremiumChecker answers whether a user holds an active premium
// subscription; the subscription service implements it.
type PremiumChecker interface {
	IsPremium(ctx context.Context, userID primitive.ObjectID) (bool, error)
}

// RequirePremium gates a route (sync) on an active premium subscription.
// Must run after Authenticate.
func RequirePremium(checker PremiumChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required", "")
				return
			}

			premium, err := checker.IsPremium(r.Context(), userID)
			if err != nil {
				logging.Logger.Errorf("Event ID: PREMIUM_CHECK_FAILED, Description: Premium check for user %s failed: %v", userID.Hex(), err)
				writeError(w, http.StatusInternalServerError, "Internal server error", "")
				return
			}
			if !premium {
				writeError(w, http.StatusForbidden, "This feature requires a premium subscription", "PREMIUM_REQUIRED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnableCORS mirrors the browser clients' needs; the Electron shell does
// not care but the web client does.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
