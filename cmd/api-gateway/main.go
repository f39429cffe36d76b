package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/aularis/lms-api/api/swagger"
	"github.com/aularis/lms-api/internal/handler"
	"github.com/aularis/lms-api/internal/middleware"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	"github.com/aularis/lms-api/internal/service"
	"github.com/aularis/lms-api/pkg/cache"
	"github.com/aularis/lms-api/pkg/config"
	"github.com/aularis/lms-api/pkg/database"
	"github.com/aularis/lms-api/pkg/logger"
	"github.com/aularis/lms-api/pkg/mailer"
	corsmiddleware "github.com/aularis/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aularis/lms-api/pkg/middleware/requestid"
)

// @title LMS API
// @version 1.0.0
// @description E-learning backend: accounts, courses, enrollments, assessments and grading.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Warnw("redis unavailable, statistics caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	mail := mailer.NewSMTP(cfg.SMTP)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	professorRepo := repository.NewProfessorRepository(db)
	institutionRepo := repository.NewInstitutionRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Statistics.CacheTTL, logr)
	}

	notificationSvc := service.NewNotificationService(
		mail,
		enrollmentRepo,
		studentRepo,
		userRepo,
		courseRepo,
		assessmentRepo,
		cfg.Notifications,
		cfg.Frontend.BaseURL,
		logr,
	)
	metricsSvc.RegisterQueueDepth("notifications", func() float64 {
		return float64(notificationSvc.QueueDepth())
	})

	authSvc := service.NewAuthService(userRepo, mail, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		ResetTokenExpiry:   cfg.JWT.ResetTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
		FrontendBaseURL:    cfg.Frontend.BaseURL,
	})
	userSvc := service.NewUserService(userRepo, studentRepo, professorRepo, nil, logr)
	institutionSvc := service.NewInstitutionService(institutionRepo, nil, logr)
	courseSvc := service.NewCourseService(courseRepo, professorRepo, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, professorRepo, notificationSvc, nil, logr)
	assessmentSvc := service.NewAssessmentService(assessmentRepo, courseRepo, professorRepo, notificationSvc, nil, logr)

	var attemptSvc *service.AttemptService
	if cacheSvc != nil {
		attemptSvc = service.NewAttemptService(attemptRepo, assessmentRepo, studentRepo, courseRepo, professorRepo, cacheSvc, cfg.Statistics.CacheTTL, nil, logr)
	} else {
		attemptSvc = service.NewAttemptService(attemptRepo, assessmentRepo, studentRepo, courseRepo, professorRepo, nil, cfg.Statistics.CacheTTL, nil, logr)
	}

	exportSvc := service.NewExportService(attemptRepo, assessmentRepo, courseRepo, professorRepo, nil, nil, logr)
	reminderSvc := service.NewReminderService(attemptRepo, notificationSvc, cfg.Reminders, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()
	reminderSvc.Start(ctx)

	authHandler := handler.NewAuthHandler(authSvc, cfg.JWT.RefreshExpiration, cfg.Env == config.EnvProduction)
	userHandler := handler.NewUserHandler(userSvc)
	institutionHandler := handler.NewInstitutionHandler(institutionSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	assessmentHandler := handler.NewAssessmentHandler(assessmentSvc)
	attemptHandler := handler.NewAttemptHandler(attemptSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), userHandler.Me)
	}

	institutions := api.Group("/institutions")
	{
		institutions.GET("", institutionHandler.List)
		institutions.GET("/:id", institutionHandler.Get)

		adminOnly := institutions.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		{
			adminOnly.POST("", middleware.Audit(userRepo, "institution.create", "institution"), institutionHandler.Create)
			adminOnly.PATCH("/:id", middleware.Audit(userRepo, "institution.update", "institution"), institutionHandler.Update)
			adminOnly.DELETE("/:id", middleware.Audit(userRepo, "institution.delete", "institution"), institutionHandler.Delete)
		}
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf), userHandler.Get)
		users.PATCH("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Deactivate)
	}

	courses := api.Group("/courses", middleware.JWT(authSvc))
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.GET("/:id/units", courseHandler.ListUnits)

		staff := courses.Group("", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin))
		{
			staff.POST("", courseHandler.Create)
			staff.PATCH("/:id", courseHandler.Update)
			staff.DELETE("/:id", courseHandler.Delete)
			staff.PUT("/:id/units", courseHandler.UpsertUnit)
			staff.DELETE("/:id/units/:number", courseHandler.DeleteUnit)
		}
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Enroll)
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PATCH("/:id", enrollmentHandler.Update)
		enrollments.DELETE("/:id", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.Remove)
		enrollments.PATCH("/:id/complete-unit", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.CompleteUnit)
		enrollments.PATCH("/:id/uncomplete-unit", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), enrollmentHandler.UncompleteUnit)
	}

	assessments := api.Group("/assessments", middleware.JWT(authSvc))
	{
		assessments.GET("", assessmentHandler.List)
		assessments.GET("/pending", middleware.RequireRoles(models.RoleStudent), attemptHandler.Pending)
		assessments.GET("/:id", assessmentHandler.Get)
		assessments.GET("/:id/questions", assessmentHandler.ListQuestions)
		assessments.POST("/:id/start", middleware.RequireRoles(models.RoleStudent), attemptHandler.Start)

		staff := assessments.Group("", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin))
		{
			staff.POST("", assessmentHandler.Create)
			staff.PATCH("/:id", assessmentHandler.Update)
			staff.DELETE("/:id", assessmentHandler.Delete)
			staff.POST("/:id/publish", assessmentHandler.Publish)
			staff.POST("/:id/questions", assessmentHandler.CreateQuestion)
			staff.PATCH("/:id/questions/:questionId", assessmentHandler.UpdateQuestion)
			staff.DELETE("/:id/questions/:questionId", assessmentHandler.DeleteQuestion)
			staff.GET("/:id/attempts", attemptHandler.Results)
			staff.GET("/:id/statistics", attemptHandler.Statistics)
			staff.GET("/:id/export", attemptHandler.Export)
		}
	}

	attempts := api.Group("/attempts", middleware.JWT(authSvc))
	{
		attempts.GET("/:id", attemptHandler.Get)

		student := attempts.Group("", middleware.RequireRoles(models.RoleStudent))
		{
			student.POST("/:id/answers", attemptHandler.SubmitAnswer)
			student.PUT("/:id/answers", attemptHandler.SaveAnswers)
			student.POST("/:id/submit", attemptHandler.Submit)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
