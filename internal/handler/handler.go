package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/config"
	"task-tracker/internal/service"
)

// Pinger reports whether the datastore is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds what the router needs besides the services.
type Options struct {
	Env      string
	Version  string
	Security config.Security
	// Registry receives the HTTP metrics and backs /metrics. Nil disables both.
	Registry *prometheus.Registry
}

type Handler struct {
	identity   *service.IdentityService
	tokens     *service.TokenService
	tasks      *service.TaskService
	categories *service.CategoryService
	db         Pinger
	log        *logrus.Logger
	opts       Options
}

func NewHandler(
	identity *service.IdentityService,
	tokens *service.TokenService,
	tasks *service.TaskService,
	categories *service.CategoryService,
	db Pinger,
	log *logrus.Logger,
	opts Options,
) *Handler {
	return &Handler{
		identity:   identity,
		tokens:     tokens,
		tasks:      tasks,
		categories: categories,
		db:         db,
		log:        log,
		opts:       opts,
	}
}

func (h *Handler) InitRoutes() (*gin.Engine, error) {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) { writeDetail(c, http.StatusNotFound, "Not found.") })
	router.NoMethod(func(c *gin.Context) { writeDetail(c, http.StatusMethodNotAllowed, "Method not allowed.") })

	router.Use(recovery(h.log), requestLogger(h.log))

	if h.opts.Registry != nil {
		metrics, err := newHTTPMetrics(h.opts.Registry)
		if err != nil {
			return nil, err
		}
		router.Use(metrics.middleware())
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Registry, promhttp.HandlerOpts{})))
	}

	router.GET("/healthcheck", h.healthcheck)

	public := router.Group("/")
	if h.opts.Security.RateLimitEnabled {
		public.Use(newIPRateLimiter(h.opts.Security.RateLimitRPS, h.opts.Security.RateLimitBurst).middleware())
	}
	public.POST("/register", h.register)
	public.POST("/login", h.login)

	router.POST("/refresh", h.refresh)

	authed := router.Group("/", h.authenticate)
	{
		authed.GET("/me", h.me)
		authed.POST("/logout", h.logout)

		authed.GET("/tasks", h.listTasks)
		authed.POST("/tasks", h.createTask)
		authed.GET("/tasks/:id", h.getTask)
		authed.PATCH("/tasks/:id", h.patchTask)
		authed.PUT("/tasks/:id", h.putTask)
		authed.DELETE("/tasks/:id", h.deleteTask)

		authed.GET("/superuser/tasks", h.superuserTasks)

		authed.GET("/categories", h.listCategories)
		authed.POST("/categories", h.createCategory)
		authed.GET("/categories/:id", h.getCategory)
		authed.PATCH("/categories/:id", h.updateCategory)
		authed.DELETE("/categories/:id", h.deleteCategory)
	}

	return router, nil
}

func (h *Handler) healthcheck(c *gin.Context) {
	status, code := "available", http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			h.log.WithError(err).Warn("healthcheck: database unreachable")
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":      status,
		"environment": h.opts.Env,
		"version":     h.opts.Version,
	})
}
