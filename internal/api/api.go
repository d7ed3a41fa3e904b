package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkarlin/llm-playground/internal/audit"
	"github.com/mkarlin/llm-playground/internal/auth"
	"github.com/mkarlin/llm-playground/internal/conversations"
	"github.com/mkarlin/llm-playground/internal/llm"
	"github.com/mkarlin/llm-playground/internal/models"
	"github.com/mkarlin/llm-playground/internal/store"
)

// PromptStore is the prompt persistence surface the handlers need.
type PromptStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.Prompt, error)
	Create(ctx context.Context, prompt models.Prompt) (models.Prompt, error)
	Delete(ctx context.Context, userID, promptID string) error
}

// Deps collects everything the handler set depends on.
type Deps struct {
	Auth            *auth.Service
	Conversations   *conversations.Service
	Prompts         PromptStore
	Gateway         llm.Generator
	Audit           audit.Recorder
	GenerateLimiter gin.HandlerFunc
	Logger          *zap.Logger
}

type Handler struct {
	authService     *auth.Service
	conversations   *conversations.Service
	prompts         PromptStore
	gateway         llm.Generator
	audit           audit.Recorder
	generateLimiter gin.HandlerFunc
	logger          *zap.Logger
}

func NewHandler(deps Deps) *Handler {
	recorder := deps.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		authService:     deps.Auth,
		conversations:   deps.Conversations,
		prompts:         deps.Prompts,
		gateway:         deps.Gateway,
		audit:           recorder,
		generateLimiter: deps.GenerateLimiter,
		logger:          logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "LLM Playground API")
	})

	authGroup := router.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)
	authGroup.GET("/protected", h.requireAuth, h.handleProtected)

	apiGroup := router.Group("/api")

	generateHandlers := make([]gin.HandlerFunc, 0, 2)
	if h.generateLimiter != nil {
		generateHandlers = append(generateHandlers, h.generateLimiter)
	}
	generateHandlers = append(generateHandlers, h.handleGenerate)
	apiGroup.POST("/generate", generateHandlers...)

	authed := apiGroup.Group("", h.requireAuth)
	authed.GET("/conversations", h.handleListConversations)
	authed.POST("/conversations", h.handleSaveConversation)
	authed.POST("/conversations/:id/messages", h.handleAppendMessage)
	authed.DELETE("/conversations/:id", h.handleDeleteConversation)
	authed.POST("/conversations/:id/fork", h.handleForkConversation)
	authed.GET("/prompts", h.handleListPrompts)
	authed.POST("/prompts", h.handleCreatePrompt)
	authed.DELETE("/prompts/:id", h.handleDeletePrompt)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

type saveConversationRequest struct {
	Messages []messagePayload `json:"messages"`
	Title    string           `json:"title"`
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type forkConversationRequest struct {
	ForkIndex *int `json:"forkIndex"`
}

type promptRequest struct {
	Name         string `json:"name" binding:"required"`
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"`
}

type generateRequest struct {
	Model            string           `json:"model"`
	SystemPrompt     string           `json:"systemPrompt"`
	UserPrompt       string           `json:"userPrompt"`
	Conversation     []messagePayload `json:"conversation"`
	Temperature      *float64         `json:"temperature"`
	MaxTokens        *int             `json:"maxTokens"`
	TopP             *float64         `json:"topP"`
	FrequencyPenalty *float64         `json:"frequencyPenalty"`
	PresencePenalty  *float64         `json:"presencePenalty"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid payload"})
		return
	}

	_, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordRequired):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username and password are required"})
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"message": "Username already exists"})
	case err != nil:
		h.logger.Error("register failed", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to register user"})
	default:
		h.logger.Info("user registered", zap.String("username", req.Username))
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
	}
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid payload"})
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid username or password"})
	case err != nil:
		h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "An error occurred during login"})
	default:
		c.JSON(http.StatusOK, gin.H{"token": result.Token})
	}
}

func (h *Handler) handleProtected(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logged_in_as": currentUserID(c)})
}

func (h *Handler) handleListConversations(c *gin.Context) {
	userID := currentUserID(c)

	convs, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}

	payload := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		messages := make([]gin.H, 0, len(conv.Messages))
		for _, msg := range conv.Messages {
			messages = append(messages, gin.H{
				"role":    msg.Role,
				"content": msg.Content,
				"model":   msg.Model,
			})
		}
		payload = append(payload, gin.H{
			"id":       conv.ID,
			"title":    conv.Title,
			"messages": messages,
		})
	}

	c.JSON(http.StatusOK, payload)
}

func (h *Handler) handleSaveConversation(c *gin.Context) {
	userID := currentUserID(c)

	var req saveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	messages := make([]models.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, models.Message{Role: msg.Role, Content: msg.Content, Model: msg.Model})
	}

	conv, err := h.conversations.Save(c.Request.Context(), userID, messages, req.Title)
	switch {
	case errors.Is(err, conversations.ErrNoMessages):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No messages provided"})
	case err != nil:
		h.logger.Error("save conversation failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save conversation"})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"message": "Conversation saved successfully",
			"id":      conv.ID,
			"title":   conv.Title,
		})
	}
}

func (h *Handler) handleAppendMessage(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")

	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "role and content are required"})
		return
	}

	msg, err := h.conversations.Append(c.Request.Context(), userID, conversationID, models.Message{
		Role:    req.Role,
		Content: req.Content,
	})
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
	case err != nil:
		h.logger.Error("append message failed", zap.String("conversation_id", conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to add message"})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": msg.ID})
	}
}

func (h *Handler) handleDeleteConversation(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")

	err := h.conversations.Delete(c.Request.Context(), userID, conversationID)
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found or you don't have permission to delete it"})
	case err != nil:
		h.logger.Error("delete conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error occurred while deleting the conversation"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
	}
}

func (h *Handler) handleForkConversation(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")

	var req forkConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if req.ForkIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Fork index not provided"})
		return
	}

	fork, err := h.conversations.Fork(c.Request.Context(), userID, conversationID, *req.ForkIndex)
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Original conversation not found"})
	case err != nil:
		h.logger.Error("fork conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fork conversation"})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"message": "Conversation forked successfully",
			"id":      fork.ID,
			"title":   fork.Title,
		})
	}
}

func (h *Handler) handleListPrompts(c *gin.Context) {
	userID := currentUserID(c)

	prompts, err := h.prompts.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list prompts failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load prompts"})
		return
	}

	payload := make([]gin.H, 0, len(prompts))
	for _, prompt := range prompts {
		payload = append(payload, promptJSON(prompt))
	}

	c.JSON(http.StatusOK, gin.H{"prompts": payload})
}

func (h *Handler) handleCreatePrompt(c *gin.Context) {
	userID := currentUserID(c)

	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "name is required"})
		return
	}

	prompt, err := h.prompts.Create(c.Request.Context(), models.Prompt{
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		UserID:       userID,
	})
	if err != nil {
		h.logger.Error("create prompt failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to save prompt"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Prompt saved successfully",
		"prompt":  promptJSON(prompt),
	})
}

func (h *Handler) handleDeletePrompt(c *gin.Context) {
	userID := currentUserID(c)
	promptID := c.Param("id")

	err := h.prompts.Delete(c.Request.Context(), userID, promptID)
	switch {
	case errors.Is(err, store.ErrPromptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Prompt not found"})
	case err != nil:
		h.logger.Error("delete prompt failed", zap.String("prompt_id", promptID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error deleting prompt"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Prompt deleted successfully"})
	}
}

func (h *Handler) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	model := req.Model
	if model == "" {
		model = "gpt-4"
	}

	settings := llm.DefaultSettings()
	if req.Temperature != nil {
		settings.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		settings.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		settings.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		settings.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		settings.PresencePenalty = *req.PresencePenalty
	}

	history := make([]llm.Message, 0, len(req.Conversation))
	promptChars := len(req.SystemPrompt) + len(req.UserPrompt)
	for _, msg := range req.Conversation {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
		promptChars += len(msg.Content)
	}

	started := time.Now()
	text, err := h.gateway.Generate(c.Request.Context(), model, req.SystemPrompt, req.UserPrompt, history, settings)
	duration := time.Since(started)

	rec := audit.Record{
		Model:       model,
		Status:      "ok",
		DurationMS:  duration.Milliseconds(),
		PromptChars: promptChars,
	}

	switch {
	case errors.Is(err, llm.ErrUnsupportedModel):
		rec.Status = "unsupported_model"
		h.audit.Record(c.Request.Context(), rec)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid model selected"})
	case err != nil:
		rec.Status = "error"
		rec.Error = err.Error()
		h.audit.Record(c.Request.Context(), rec)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.audit.Record(c.Request.Context(), rec)
		c.JSON(http.StatusOK, gin.H{"response": text})
	}
}

func promptJSON(prompt models.Prompt) gin.H {
	return gin.H{
		"id":           prompt.ID,
		"name":         prompt.Name,
		"systemPrompt": prompt.SystemPrompt,
		"userPrompt":   prompt.UserPrompt,
	}
}
