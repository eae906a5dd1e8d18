package api

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"thinkchat/internal/config"
	"thinkchat/internal/models"
	"thinkchat/internal/service/ai"
	"thinkchat/internal/service/conversation"
	"thinkchat/internal/session"
	"thinkchat/internal/worker"
)

//go:embed static/index.html
var indexHTML []byte

type Sessions interface {
	Create(modelID string) (string, *conversation.Controller, error)
	Get(id string) (*conversation.Controller, error)
	List() []models.Session
	Delete(id string) error
}

// Handler wires HTTP routes to the session registry.
type Handler struct {
	sessions Sessions
	model    config.ModelConfig
	chat     config.ChatConfig
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions Sessions, cfg *config.Config) *Handler {
	return &Handler{
		sessions: sessions,
		model:    cfg.Model,
		chat:     cfg.Chat,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	api := router.Group("/api")
	api.GET("/models", h.listModels)
	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", h.createConversation)
	conv := api.Group("/conversations/:id")
	conv.DELETE("", h.deleteConversation)
	conv.GET("/messages", h.getMessages)
	conv.POST("/messages", h.sendMessage)
	conv.PUT("/model", h.selectModel)
}

func (h *Handler) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":        h.model.Models,
		"default_model": h.model.DefaultModel,
		"title":         h.chat.Title,
		"caption":       h.chat.Caption,
		"capabilities":  h.chat.Capabilities,
	})
}

func (h *Handler) listConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

type createRequest struct {
	Model string `json:"model"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	id, ctrl, err := h.sessions.Create(req.Model)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":       id,
		"model":    ctrl.SelectedModel(),
		"state":    ctrl.State(),
		"messages": ctrl.History(),
	})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getMessages(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       c.Param("id"),
		"model":    ctrl.SelectedModel(),
		"state":    ctrl.State(),
		"messages": ctrl.History(),
	})
}

type selectModelRequest struct {
	Model string `json:"model" binding:"required"`
}

func (h *Handler) selectModel(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req selectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := ctrl.SelectModel(req.Model); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": ctrl.SelectedModel()})
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	userTurn, reply, err := ctrl.Exchange(c.Request.Context(), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_message": userTurn,
		"ai_message":   reply,
		"answer":       reply.Answer,
	})
}

func (h *Handler) lookup(c *gin.Context) (*conversation.Controller, bool) {
	ctrl, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is required"})
	case errors.Is(err, conversation.ErrUnknownModel), errors.Is(err, ai.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, conversation.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "a reply is still being generated, please wait"})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, worker.ErrDispatcherStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	case ai.IsConnectivity(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"error": fmt.Sprintf("cannot reach the model server at %s, make sure it is running", h.model.BaseURL),
		})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
