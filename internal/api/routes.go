package api

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/handlers"
	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/KuldeepProzo/ProCompliance/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Router struct {
	engine           *gin.Engine
	logger           *zap.Logger
	metrics          *metrics.MetricsCollector
	authHandler      *handlers.AuthHandler
	taskHandler      *handlers.TaskHandler
	userHandler      *handlers.UserHandler
	metaHandler      *handlers.MetaHandler
	dashboardHandler *handlers.DashboardHandler
	reminderHandler  *handlers.ReminderHandler
	standardHandler  *handlers.StandardHandler
	authMiddleware   *middleware.AuthMiddleware
	reqMiddleware    *middleware.RequestMiddleware
}

type Services struct {
	Users     *services.UserService
	Tasks     *services.TaskService
	Meta      *services.MetaService
	Dashboard *services.DashboardService
	Reminders *services.ReminderService
	Standards *services.StandardService
}

func NewRouter(
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	svc Services,
	cfg *config.Configuration,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	authMiddleware := middleware.NewAuthMiddleware(svc.Users)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:           engine,
		logger:           logger,
		metrics:          metrics,
		authHandler:      handlers.NewAuthHandler(svc.Users, logger),
		taskHandler:      handlers.NewTaskHandler(svc.Tasks, svc.Users, svc.Meta, cfg.Upload, logger),
		userHandler:      handlers.NewUserHandler(svc.Users, logger),
		metaHandler:      handlers.NewMetaHandler(svc.Meta, logger),
		dashboardHandler: handlers.NewDashboardHandler(svc.Dashboard, logger),
		reminderHandler:  handlers.NewReminderHandler(svc.Reminders, logger),
		standardHandler:  handlers.NewStandardHandler(svc.Standards, logger),
		authMiddleware:   authMiddleware,
		reqMiddleware:    reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "procompliance"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
		})
	})

	auth := r.engine.Group("/api/auth")
	auth.Use(r.reqMiddleware.AuthAttemptMiddleware())
	{
		auth.POST("/login", r.authHandler.Login)
		auth.POST("/forgot", r.authHandler.ForgotPassword)
		auth.POST("/reset", r.authHandler.ResetPassword)
	}

	api := r.engine.Group("/api")
	api.Use(r.authMiddleware.RequireAuth())
	{
		api.GET("/me", r.authHandler.Me)
		api.GET("/dashboard", r.dashboardHandler.Summary)

		api.GET("/tasks", r.taskHandler.List)
		api.GET("/tasks/export", r.taskHandler.ExportCSV)
		api.GET("/tasks/:id", r.taskHandler.Get)
		api.POST("/tasks", r.taskHandler.Create)
		api.PUT("/tasks/:id", r.taskHandler.Update)
		api.PATCH("/tasks/:id/status", r.taskHandler.SetStatus)
		api.POST("/tasks/:id/request-edit", r.taskHandler.RequestEdit)
		api.GET("/tasks/:id/notes", r.taskHandler.ListNotes)
		api.POST("/tasks/:id/notes", r.taskHandler.AddNote)
		api.DELETE("/attachments/:id", r.taskHandler.DeleteAttachment)
		api.GET("/files/:name", r.taskHandler.DownloadFile)

		api.GET("/people", r.userHandler.People)
		api.GET("/categories", r.metaHandler.Categories)
		api.GET("/companies", r.metaHandler.Companies)
		api.GET("/standards", r.standardHandler.List)

		elevated := api.Group("")
		elevated.Use(r.authMiddleware.RequireElevated())
		{
			elevated.DELETE("/tasks/:id", r.taskHandler.Delete)
			elevated.POST("/tasks/import", r.taskHandler.ImportCSV)
			elevated.GET("/users", r.userHandler.List)
			elevated.POST("/users", r.userHandler.Create)
			elevated.PUT("/users/:id", r.userHandler.Update)
			elevated.POST("/companies", r.metaHandler.CreateCompany)
			elevated.POST("/standards/apply", r.standardHandler.Apply)
		}

		super := api.Group("")
		super.Use(r.authMiddleware.RequireSuperAdmin())
		{
			super.DELETE("/users/:id", r.userHandler.Delete)
			super.POST("/categories", r.metaHandler.CreateCategory)
			super.DELETE("/categories/:id", r.metaHandler.DeleteCategory)
			super.DELETE("/companies/:id", r.metaHandler.DeleteCompany)
			super.POST("/standards", r.standardHandler.Create)
			super.PUT("/standards/:id", r.standardHandler.Update)
			super.DELETE("/standards/:id", r.standardHandler.Delete)
			super.GET("/reminders/policies", r.reminderHandler.Policies)
			super.PUT("/reminders/policies", r.reminderHandler.SetPolicy)
			super.POST("/reminders/run", r.reminderHandler.Run)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
