package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KuldeepProzo/ProCompliance/internal/api"
	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/KuldeepProzo/ProCompliance/internal/utils"
	"github.com/KuldeepProzo/ProCompliance/pkg/logger"
	"github.com/KuldeepProzo/ProCompliance/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var cfg *config.Configuration
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.InitializeDefaultConfig()
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedDatabase(database, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	notifier := services.NewSMTPNotifier(cfg.Mail, zapLogger)
	perms := services.NewPermissionResolver()
	userService := services.NewUserService(database, notifier, cfg.Security, cfg.Mail.AppURL, zapLogger)
	taskService := services.NewTaskService(database, perms, notifier, zapLogger, metricsCollector)
	metaService := services.NewMetaService(database)
	dashboardService := services.NewDashboardService(database)
	reminderService := services.NewReminderService(database, notifier, cfg.Reminder, zapLogger, metricsCollector)
	standardService := services.NewStandardService(database, perms, taskService, notifier, zapLogger)

	reminderService.StartDailyScheduler(ctx)

	router := api.NewRouter(zapLogger, metricsCollector, api.Services{
		Users:     userService,
		Tasks:     taskService,
		Meta:      metaService,
		Dashboard: dashboardService,
		Reminders: reminderService,
		Standards: standardService,
	}, cfg)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")
	cancel()

	sqlDB, err := db.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

// seedDatabase creates the first superadmin and the base lookup rows so a
// fresh install is usable immediately.
func seedDatabase(database *gorm.DB, cfg *config.Configuration, logger *zap.Logger) error {
	var count int64
	database.Model(&models.User{}).Count(&count)
	if count > 0 {
		logger.Info("Database already seeded, skipping")
		return nil
	}
	logger.Info("Seeding database with initial data")

	hash, err := utils.EncryptPassword(cfg.Security.AdminPassword)
	if err != nil {
		return err
	}
	admin := models.User{
		Email:        cfg.Security.AdminEmail,
		Name:         utils.NameFromEmail(cfg.Security.AdminEmail),
		Role:         models.RoleSuperAdmin,
		PasswordHash: hash,
	}
	if err := database.Create(&admin).Error; err != nil {
		return err
	}
	logger.Info("Created superadmin", zap.String("email", admin.Email))

	categories := []models.Category{{Name: "General"}}
	if err := database.Create(&categories).Error; err != nil {
		return err
	}
	companies := []models.Company{{Name: "Head Office"}}
	if err := database.Create(&companies).Error; err != nil {
		return err
	}

	logger.Info("Database seeding completed successfully")
	return nil
}
