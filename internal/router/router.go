package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "medcoder/docs"
	"medcoder/internal/config"
	"medcoder/internal/handler"
	"medcoder/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	cfg *config.Config,
	docH *handler.DocumentHandler,
	codeH *handler.CodeHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	// API docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")

	// Trailing slashes match the polling client's URL shapes.
	api.POST("/upload/", docH.Upload)

	docs := api.Group("/documents")
	docs.GET("", docH.List)
	docs.GET("/:id/", docH.Status)
	docs.GET("/:id/file", docH.DownloadFile)
	docs.GET("/:id/codes.csv", docH.ExportCodes)

	api.GET("/codes/:code", codeH.GetByCode)

	return r
}
