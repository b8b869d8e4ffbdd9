package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
	"cinehub/internal/notify"
	"cinehub/internal/service"
)

const userIDKey = "user_id"

// Handler wires HTTP routes to the offline download services. Identity is
// delegated to the hosted provider; this layer only verifies its bearer
// tokens and extracts the user id.
type Handler struct {
	dispatch  *service.DispatchService
	libraries service.LibraryService
	store     cache.Store
	bus       *notify.Bus
	jwtSecret []byte
	client    *http.Client
	logger    *logrus.Logger
}

func NewHandler(
	dispatch *service.DispatchService,
	libraries service.LibraryService,
	store cache.Store,
	bus *notify.Bus,
	jwtSecret string,
	logger *logrus.Logger,
) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		dispatch:  dispatch,
		libraries: libraries,
		store:     store,
		bus:       bus,
		jwtSecret: []byte(jwtSecret),
		client:    &http.Client{},
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", h.health)

		authed := api.Group("", h.requireUser)
		{
			authed.POST("/downloads", h.startDownload)
			authed.GET("/downloads", h.listDownloads)
			authed.DELETE("/downloads/:id", h.deleteDownload)
			authed.GET("/offline/stream", h.streamOffline)
			authed.GET("/events", h.events)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireUser validates the identity provider's bearer token and resolves the
// current user id from its subject claim.
func (h *Handler) requireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrNotSignedIn.Error()})
		return
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrNotSignedIn.Error()})
		return
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.ErrNotSignedIn.Error()})
		return
	}

	c.Set(userIDKey, subject)
	c.Next()
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"foregroundActive": h.dispatch.ForegroundActive(),
	})
}

type startDownloadRequest struct {
	Title     string `json:"title" binding:"required"`
	URL       string `json:"url" binding:"required"`
	MediaType string `json:"mediaType"`
	Quality   string `json:"quality"`
	Language  string `json:"language"`
}

func (h *Handler) startDownload(c *gin.Context) {
	var req startDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(userIDKey)
	entry, background, err := h.dispatch.StartDownload(c.Request.Context(), userID, service.DownloadRequest{
		Title:     req.Title,
		URL:       req.URL,
		MediaType: domain.MediaType(req.MediaType),
		Quality:   req.Quality,
		Language:  req.Language,
	})
	if err != nil {
		c.JSON(refusalStatus(err), gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if background {
		// Transfer continues without the caller; safe to navigate away.
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"entry": entry, "background": background})
}

func refusalStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrCacheUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrInsufficientStorage):
		return http.StatusInsufficientStorage
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) listDownloads(c *gin.Context) {
	userID := c.GetString(userIDKey)
	c.JSON(http.StatusOK, h.libraries.Library(c.Request.Context(), userID))
}

func (h *Handler) deleteDownload(c *gin.Context) {
	userID := c.GetString(userIDKey)
	entryID := c.Param("id")

	entry, ok := h.libraries.Remove(c.Request.Context(), userID, entryID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	if entry.CacheKey != "" {
		if err := h.store.Delete(c.Request.Context(), entry.CacheKey); err != nil {
			h.logger.Warnf("delete cache record for %s: %v", entryID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": entryID})
}

// streamOffline serves a request carrying the offline marker and entry id
// preferentially from the binary cache, passes through to the network on a
// miss, and answers 404 when neither is available.
func (h *Handler) streamOffline(c *gin.Context) {
	src := c.Query("src")
	entryID := c.Query("entry")
	if src == "" || entryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "src and entry are required"})
		return
	}

	key := domain.CacheKey(src, entryID)
	rec, err := h.store.Match(c.Request.Context(), key)
	if err != nil {
		h.logger.Warnf("cache lookup for %s: %v", entryID, err)
	}
	if rec != nil {
		c.Data(http.StatusOK, rec.ContentType, rec.Payload)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, src, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source url"})
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		c.String(http.StatusNotFound, "Offline resource not available")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.String(http.StatusNotFound, "Offline resource not available")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, nil)
}

// events streams the notification channel to a page over SSE. Receiving pages
// must treat messages as idempotent hints: delivery may be late or duplicated
// and assumes nothing about page state.
func (h *Handler) events(c *gin.Context) {
	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
