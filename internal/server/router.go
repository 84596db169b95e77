package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinforge/relay/backend/internal/entities"
	"github.com/clinforge/relay/backend/internal/mutation"
	"github.com/clinforge/relay/backend/internal/realtime"
	"github.com/clinforge/relay/backend/internal/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "relay_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingPipeline     = errors.New("mutation pipeline dependency required")
	errMissingWorkflow     = errors.New("workflow engine dependency required")
	errMissingHub          = errors.New("connection hub dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates boundary bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the router to the core.
type Dependencies struct {
	TokenManager TokenManager
	Pipeline     *mutation.Pipeline
	Workflow     *workflow.Engine
	Hub          *realtime.Hub
	Dispatcher   *realtime.Dispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the Gin handler over the core entry points.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Pipeline == nil {
		return nil, errMissingPipeline
	}
	if deps.Workflow == nil {
		return nil, errMissingWorkflow
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		pipeline:   deps.Pipeline,
		workflow:   deps.Workflow,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/api/:collection", handler.handleCreate)
	protected.PATCH("/api/:collection/:id", handler.handleUpdate)
	protected.DELETE("/api/:collection/:id", handler.handleDelete)
	protected.POST("/workflow/trackers/:id/transition", handler.handleTransition)
	protected.POST("/workflow/trackers/:id/tags", handler.handleAssignTag)
	protected.DELETE("/workflow/trackers/:id/tags/:tagId", handler.handleUnassignTag)
	protected.GET("/workflow/trackers/:id/unresolved-count", handler.handleUnresolvedCount)
	protected.POST("/workflow/comments/:id/resolve", handler.handleResolveComment)
	protected.POST("/workflow/comments/:id/reopen", handler.handleReopenComment)
	protected.POST("/workflow/comments/:id/pin", handler.handlePinComment)
	protected.GET("/ws/:topic", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	pipeline   *mutation.Pipeline
	workflow   *workflow.Engine
	hub        *realtime.Hub
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	kind, ok := h.collectionKind(c)
	if !ok {
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	autoCreate := false
	if raw, present := fields["auto_create_tracker"]; present {
		flag, isBool := raw.(bool)
		if !isBool {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		autoCreate = flag
		delete(fields, "auto_create_tracker")
	}

	outcome, err := h.pipeline.Execute(c.Request.Context(), mutation.Mutation{
		Op:                mutation.OpCreate,
		Kind:              kind,
		Fields:            fields,
		AutoCreateTracker: autoCreate,
	})
	if err != nil {
		h.renderMutationError(c, err)
		return
	}

	response := gin.H{"data": outcome.Entity}
	if outcome.Tracker != nil {
		response["tracker"] = outcome.Tracker
	}
	c.JSON(http.StatusCreated, response)
	h.publish(outcome)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	kind, ok := h.collectionKind(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.pipeline.Execute(c.Request.Context(), mutation.Mutation{
		Op:       mutation.OpUpdate,
		Kind:     kind,
		EntityID: id,
		Fields:   fields,
	})
	if err != nil {
		h.renderMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcome.Entity})
	h.publish(outcome)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	kind, ok := h.collectionKind(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	outcome, err := h.pipeline.Execute(c.Request.Context(), mutation.Mutation{
		Op:       mutation.OpDelete,
		Kind:     kind,
		EntityID: id,
	})
	if err != nil {
		h.renderMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcome.Entity})
	h.publish(outcome)
}

type transitionRequestPayload struct {
	Axis   string `json:"axis"`
	Status string `json:"status"`
}

func (h *httpHandler) handleTransition(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var request transitionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	tracker, event, err := h.workflow.Transition(c.Request.Context(), id,
		workflow.Axis(request.Axis), entities.Status(request.Status))
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tracker})
	h.publishEvent(event)
}

type tagRequestPayload struct {
	TagID uint `json:"tag_id"`
}

func (h *httpHandler) handleAssignTag(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var request tagRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TagID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	assignment, affected, event, err := h.workflow.AssignTag(c.Request.Context(), id, request.TagID)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment, "affected_count": affected})
	h.publishEvent(event)
}

func (h *httpHandler) handleUnassignTag(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	tagID, ok := h.pathID(c, "tagId")
	if !ok {
		return
	}

	affected, event, err := h.workflow.UnassignTag(c.Request.Context(), id, tagID)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"affected_count": affected})
	h.publishEvent(event)
}

func (h *httpHandler) handleUnresolvedCount(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	count, err := h.workflow.UnresolvedCount(c.Request.Context(), id)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unresolved_count": count})
}

type resolveRequestPayload struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *httpHandler) handleResolveComment(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var request resolveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, event, err := h.workflow.ResolveComment(c.Request.Context(), id, request.ResolvedBy)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": comment})
	h.publishEvent(event)
}

func (h *httpHandler) handleReopenComment(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	comment, event, err := h.workflow.ReopenComment(c.Request.Context(), id)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": comment})
	h.publishEvent(event)
}

type pinRequestPayload struct {
	Pinned bool `json:"pinned"`
}

func (h *httpHandler) handlePinComment(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var request pinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, event, err := h.workflow.PinComment(c.Request.Context(), id, request.Pinned)
	if err != nil {
		h.renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": comment})
	h.publishEvent(event)
}

// publish hands the outcome's event to the dispatcher after the response
// is written; broadcasting never precedes the commit.
func (h *httpHandler) publish(outcome *mutation.Outcome) {
	if outcome == nil {
		return
	}
	h.dispatcher.Publish(outcome.Event)
	if outcome.Tracker != nil {
		h.dispatcher.Publish(realtime.ChangeEvent{
			Kind:     entities.KindTracker,
			EntityID: outcome.Tracker.ID,
			Action:   realtime.ActionCreated,
			Topic:    entities.TopicFor(entities.KindTracker),
			Payload:  outcome.Tracker,
		})
	}
}

func (h *httpHandler) publishEvent(event *realtime.ChangeEvent) {
	if event == nil {
		return
	}
	h.dispatcher.Publish(*event)
}

func (h *httpHandler) collectionKind(c *gin.Context) (entities.Kind, bool) {
	kind, err := entities.ParseCollection(c.Param("collection"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_collection"})
		return "", false
	}
	return kind, true
}

func (h *httpHandler) pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return uint(id), true
}

func (h *httpHandler) renderMutationError(c *gin.Context, err error) {
	mutErr, ok := mutation.AsMutationError(err)
	if !ok {
		h.logger.Error("mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	switch mutErr.Code {
	case mutation.CodeDuplicateKey:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          string(mutation.CodeDuplicateKey),
			"kind":           string(mutErr.Kind),
			"columns":        mutErr.Columns,
			"conflicting_id": mutErr.ConflictingID,
		})
	case mutation.CodeDependencyConflict:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          string(mutation.CodeDependencyConflict),
			"kind":           string(mutErr.Kind),
			"blocking_kind":  string(mutErr.BlockingKind),
			"blocking_count": mutErr.BlockingCount,
		})
	case mutation.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{
			"error": string(mutation.CodeNotFound),
			"kind":  string(mutErr.Kind),
			"id":    mutErr.EntityID,
		})
	case mutation.CodeInvalidPayload:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  string(mutation.CodeInvalidPayload),
			"kind":   string(mutErr.Kind),
			"detail": mutErr.Error(),
		})
	default:
		h.logger.Error("mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(mutation.CodePersistenceFailure)})
	}
}

func (h *httpHandler) renderWorkflowError(c *gin.Context, err error) {
	if transErr, ok := workflow.AsTransitionError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid_transition",
			"axis":       string(transErr.Axis),
			"current":    string(transErr.Current),
			"requested":  string(transErr.Requested),
			"tracker_id": transErr.TrackerID,
		})
		return
	}
	if errors.Is(err, workflow.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.logger.Error("workflow request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
