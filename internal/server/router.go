package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/auth"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/widget"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	installHeader         = "X-Install-ID"
	postURLHeader         = "X-Post-URL"
	widgetContextKey      = "commentwidget_widget"
	installIDContextKey   = "commentwidget_install_id"
	defaultHeartbeatEvery = 25 * time.Second
)

var (
	errMissingInstallResolver = errors.New("install resolver dependency required")
	errMissingRegistry        = errors.New("widget registry dependency required")
)

// InstallResolver issues and validates install ids.
type InstallResolver interface {
	Resolve(ctx context.Context, raw, postURL string) (string, error)
}

// Dependencies bundles everything the HTTP surface needs. A nil Sessions
// validator forwards credentials to the backend unchecked.
type Dependencies struct {
	Installs          InstallResolver
	Registry          *Registry
	Sessions          *auth.SessionValidator
	CookieName        string
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Installs == nil {
		return nil, errMissingInstallResolver
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = auth.DefaultCookieName
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatEvery
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		installs:   deps.Installs,
		registry:   deps.Registry,
		sessions:   deps.Sessions,
		cookieName: cookieName,
		realtime:   deps.Realtime,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	widgetRoutes := router.Group("/widget")
	widgetRoutes.Use(handler.resolveInstall, handler.attachSession)
	widgetRoutes.GET("/state", handler.handleState)
	widgetRoutes.PUT("/sort", handler.handleChangeSort)
	widgetRoutes.POST("/comments", handler.handleAddComment)
	widgetRoutes.PUT("/comments/:id", handler.handleEditComment)
	widgetRoutes.DELETE("/comments/:id", handler.handleDeleteComment)
	widgetRoutes.PUT("/comments/:id/vote", handler.handleVote)
	widgetRoutes.PUT("/comments/:id/pin", handler.handlePin)
	widgetRoutes.PUT("/users/:id/block", handler.handleBlockUser)
	widgetRoutes.PUT("/users/:id/unblock", handler.handleUnblockUser)
	widgetRoutes.PUT("/users/:id/verify", handler.handleVerifyUser)
	widgetRoutes.PUT("/users/:id/hidden", handler.handleHiddenUser)
	widgetRoutes.GET("/blocked", handler.handleShowBlocked)
	widgetRoutes.DELETE("/blocked", handler.handleHideBlocked)
	widgetRoutes.POST("/more", handler.handleShowMore)
	widgetRoutes.GET("/deeplink/:id", handler.handleDeepLink)
	widgetRoutes.PUT("/readonly", handler.handleReadOnly)
	widgetRoutes.POST("/logout", handler.handleLogout)
	if deps.Realtime != nil {
		widgetRoutes.GET("/stream", handler.handleStream)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", installHeader, postURLHeader, auth.TokenHeader},
		ExposeHeaders:    []string{installHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	installs   InstallResolver
	registry   *Registry
	sessions   *auth.SessionValidator
	cookieName string
	realtime   *RealtimeDispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) resolveInstall(c *gin.Context) {
	postURL := strings.TrimSpace(c.Query("url"))
	if postURL == "" {
		postURL = strings.TrimSpace(c.GetHeader(postURLHeader))
	}
	if postURL == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_post_url"})
		return
	}

	installID, err := h.installs.Resolve(c.Request.Context(), c.GetHeader(installHeader), postURL)
	if err != nil {
		h.logger.Info("install resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_install"})
		return
	}
	c.Header(installHeader, installID)

	entry, err := h.registry.acquire(installID, postURL)
	if err != nil {
		h.logger.Error("failed to create widget", zap.String("install_id", installID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "widget_unavailable"})
		return
	}
	c.Set(installIDContextKey, installID)
	c.Set(widgetContextKey, entry)
	c.Next()
}

// attachSession forwards the viewer's credential to the widget's backend
// session. Invalid credentials are dropped, which turns the viewer into a
// guest rather than failing the request. A widget holds one viewer: an install
// id belongs to one browser, so its tabs carry the same cookie, and a request
// with a different credential replaces the viewer for the whole widget.
func (h *httpHandler) attachSession(c *gin.Context) {
	entry := widgetFromContext(c)
	token := auth.TokenFromRequest(c.Request, h.cookieName)
	if token != "" && h.sessions != nil {
		if _, err := h.sessions.ValidateToken(token); err != nil {
			if errors.Is(err, auth.ErrExpiredSessionToken) {
				h.logger.Info("token validation failed", zap.Error(err))
			} else {
				h.logger.Warn("token validation failed", zap.Error(err))
			}
			token = ""
		}
	}

	if entry.session.Token() != token {
		entry.session.SetToken(token)
		if entry.root.Snapshot().Load != widget.LoadUninitialized {
			entry.root.RefreshViewer(c.Request.Context())
		}
	}
	c.Next()
}

func widgetFromContext(c *gin.Context) *installWidget {
	value, _ := c.Get(widgetContextKey)
	entry, _ := value.(*installWidget)
	return entry
}
