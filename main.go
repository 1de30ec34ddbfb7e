package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/add-xylitol/1.Todo-list/config"
	"github.com/add-xylitol/1.Todo-list/handlers"
	"github.com/add-xylitol/1.Todo-list/logging"
	"github.com/add-xylitol/1.Todo-list/middleware"
	"github.com/add-xylitol/1.Todo-list/repositories"
	"github.com/add-xylitol/1.Todo-list/services"
	"github.com/add-xylitol/1.Todo-list/utils"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	logging.InitLogger()
	logging.Logger.Info("Event ID: SERVICE_START, Description: Starting todo server...")

	if err := godotenv.Load(".env"); err != nil {
		logging.Logger.Warnf("Event ID: ENV_LOAD_SKIPPED, Description: No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatalf("Event ID: CONFIG_ERROR, Description: %v", err)
	}
	utils.InitSecret(cfg.JWTSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logging.Logger.Fatalf("Event ID: DB_CONNECTION_FAILED, Description: Database connection for MongoDB failed: %v", err)
	}
	defer client.Disconnect(ctx)

	if err := client.Ping(ctx, nil); err != nil {
		logging.Logger.Fatalf("Event ID: DB_PING_FAILED, Description: MongoDB connection ping error: %v", err)
	}
	logging.Logger.Infof("Event ID: DB_CONNECTED, Description: Successfully connected to MongoDB at %s", cfg.MongoURI)

	db := client.Database(cfg.MongoDBName)
	taskRepo := repositories.NewTaskRepository(db.Collection("tasks"))
	if err := taskRepo.EnsureIndexes(ctx); err != nil {
		logging.Logger.Fatalf("Event ID: DB_INDEX_FAILED, Description: %v", err)
	}

	billingBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "BillingProviderCB",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Infof("Event ID: CIRCUIT_BREAKER_STATE_CHANGE, Description: Circuit Breaker '%s' changed from '%s' to '%s'", name, from.String(), to.String())
		},
	})

	userService := services.NewUserService(db.Collection("users"))
	subscriptionService := services.NewSubscriptionService(db.Collection("users"), utils.NewHTTPClient(), billingBreaker, cfg.BillingAPIURL)
	categoryService := services.NewCategoryService(db.Collection("categories"))
	taskService := services.NewTaskService(taskRepo, subscriptionService)
	syncService := services.NewSyncService(taskRepo, userService)

	authHandler := handlers.NewAuthHandler(userService)
	taskHandler := handlers.NewTaskHandler(taskService, syncService)
	categoryHandler := handlers.NewCategoryHandler(categoryService)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)

	apiLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitMaxKeys, cfg.RateLimitTTL)
	authLimiter := middleware.NewRateLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst, cfg.RateLimitMaxKeys, cfg.RateLimitTTL)

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// Public auth surface, tightly rate limited per identity.
	authPublic := r.PathPrefix("/api/auth").Subrouter()
	authPublic.Use(authLimiter.Limit)
	authPublic.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authPublic.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	authPublic.HandleFunc("/refresh", authHandler.Refresh).Methods(http.MethodPost)
	authPublic.HandleFunc("/forgot-password", authHandler.ForgotPassword).Methods(http.MethodPost)
	authPublic.HandleFunc("/reset-password", authHandler.ResetPassword).Methods(http.MethodPost)

	authPrivate := r.PathPrefix("/api/auth").Subrouter()
	authPrivate.Use(middleware.Authenticate, apiLimiter.Limit)
	authPrivate.HandleFunc("/me", authHandler.Me).Methods(http.MethodGet)
	authPrivate.HandleFunc("/change-password", authHandler.ChangePassword).Methods(http.MethodPut)

	// Sync is premium-gated; register before the generic task routes.
	sync := r.PathPrefix("/api/tasks/sync").Subrouter()
	sync.Use(middleware.Authenticate, apiLimiter.Limit, middleware.RequirePremium(subscriptionService))
	sync.HandleFunc("", taskHandler.SyncTasks).Methods(http.MethodPost)

	tasks := r.PathPrefix("/api/tasks").Subrouter()
	tasks.Use(middleware.Authenticate, apiLimiter.Limit)
	tasks.HandleFunc("", taskHandler.ListTasks).Methods(http.MethodGet)
	tasks.HandleFunc("", taskHandler.CreateTask).Methods(http.MethodPost)
	tasks.HandleFunc("/batch/reorder", taskHandler.ReorderTasks).Methods(http.MethodPatch)
	tasks.HandleFunc("/batch/action", taskHandler.BatchTasks).Methods(http.MethodPatch)
	tasks.HandleFunc("/stats/overview", taskHandler.TaskStats).Methods(http.MethodGet)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}", taskHandler.GetTask).Methods(http.MethodGet)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}", taskHandler.UpdateTask).Methods(http.MethodPut)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}", taskHandler.ArchiveTask).Methods(http.MethodDelete)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}/toggle", taskHandler.ToggleTask).Methods(http.MethodPatch)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}/restore", taskHandler.RestoreTask).Methods(http.MethodPatch)
	tasks.HandleFunc("/{id:[0-9a-fA-F]{24}}/permanent", taskHandler.PurgeTask).Methods(http.MethodDelete)

	categories := r.PathPrefix("/api/categories").Subrouter()
	categories.Use(middleware.Authenticate, apiLimiter.Limit)
	categories.HandleFunc("", categoryHandler.ListCategories).Methods(http.MethodGet)
	categories.HandleFunc("", categoryHandler.CreateCategory).Methods(http.MethodPost)
	categories.HandleFunc("/{id:[0-9a-fA-F]{24}}", categoryHandler.UpdateCategory).Methods(http.MethodPut)
	categories.HandleFunc("/{id:[0-9a-fA-F]{24}}", categoryHandler.DeleteCategory).Methods(http.MethodDelete)

	subscriptions := r.PathPrefix("/api/subscriptions").Subrouter()
	subscriptions.HandleFunc("/plans", subscriptionHandler.Plans).Methods(http.MethodGet)
	subscriptionsPrivate := r.PathPrefix("/api/subscriptions").Subrouter()
	subscriptionsPrivate.Use(middleware.Authenticate, apiLimiter.Limit)
	subscriptionsPrivate.HandleFunc("/status", subscriptionHandler.Status).Methods(http.MethodGet)
	subscriptionsPrivate.HandleFunc("/verify-payment", subscriptionHandler.VerifyPayment).Methods(http.MethodPost)

	corsRouter := middleware.EnableCORS(r)

	serverAddress := fmt.Sprintf(":%s", cfg.ServerPort)
	logging.Logger.Infof("Event ID: SERVER_START_INFO, Description: Server running on http://localhost%s", serverAddress)

	if err := http.ListenAndServe(serverAddress, corsRouter); err != nil {
		logging.Logger.Fatalf("Event ID: SERVER_FATAL_ERROR, Description: Server failed to start: %v", err)
	}
}
