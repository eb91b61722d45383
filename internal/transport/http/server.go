package http

import (
	"github.com/gin-gonic/gin"

	"openlegalrag/internal/bootstrap"
	"openlegalrag/internal/transport/http/handler"
	"openlegalrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	checks := make(map[string]handler.Check, len(app.Checks))
	for name, check := range app.Checks {
		checks[name] = check
	}
	initialised := make(map[string]handler.Initialised, len(app.Initialised))
	for name, ready := range app.Initialised {
		initialised[name] = ready
	}
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks, initialised)
	router.GET("/healthz", healthHandler.Check)

	completeHandler := handler.NewCompleteHandler(app.Completion)
	searchHandler := handler.NewSearchHandler(app.Search)

	api := router.Group("/api")
	if app.Config.Auth.JWTSecret != "" {
		api.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	}
	api.GET("/models", middleware.RateLimit(app.Limiters.Models, app.Logger), completeHandler.Models)
	api.POST("/search", middleware.RateLimit(app.Limiters.Search, app.Logger), searchHandler.Search)
	api.POST("/complete", middleware.RateLimit(app.Limiters.Complete, app.Logger), completeHandler.Complete)

	if app.Records != nil {
		completionsHandler := handler.NewCompletionsHandler(app.Records)
		api.GET("/completions", completionsHandler.List)
		api.GET("/completions/:request_id", completionsHandler.Get)
	}

	return router
}
