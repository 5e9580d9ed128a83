package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brycentjw/icp-azle-forum/internal/forum"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerAddressContextKey = "forum_caller_address"

var (
	errMissingForumService  = errors.New("forum service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AddressTokenManager issues and validates caller-address bearer tokens.
type AddressTokenManager interface {
	IssueAddressToken(ctx context.Context, address string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP shell to the forum engine.
type Dependencies struct {
	Forum  *forum.Service
	Tokens AddressTokenManager
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the forum engine. Reads are
// public; every mutation requires a bearer token naming the caller address.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Forum == nil {
		return nil, errMissingForumService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		forum:  deps.Forum,
		tokens: deps.Tokens,
		logger: logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	router.GET("/categories", handler.handleListCategories)
	router.GET("/categories/:category/topics", handler.handleListTopics)
	router.GET("/categories/:category/topics/:topic", handler.handleGetTopic)
	router.GET("/categories/:category/topics/:topic/posts/:post", handler.handleGetPost)
	router.GET("/admins", handler.handleListAdmins)
	router.GET("/moderators", handler.handleListModerators)
	router.GET("/ban", handler.handleListBanned)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/categories", handler.handleCreateCategory)
	protected.DELETE("/categories/:category", handler.handleDeleteCategory)
	protected.POST("/categories/:category/topics", handler.handleCreateTopic)
	protected.PUT("/categories/:category/topics/:topic", handler.handleEditTopic)
	protected.PUT("/categories/:category/topics/:topic/pin", handler.handlePinTopic)
	protected.PUT("/categories/:category/topics/:topic/close", handler.handleCloseTopic)
	protected.POST("/categories/:category/topics/:topic/likes", handler.handleLikeTopic)
	protected.DELETE("/categories/:category/topics/:topic/likes", handler.handleUnlikeTopic)
	protected.POST("/categories/:category/topics/:topic/posts", handler.handleCreatePost)
	protected.PUT("/categories/:category/topics/:topic/posts/:post", handler.handleEditPost)
	protected.DELETE("/categories/:category/topics/:topic/posts/:post", handler.handleDeletePost)
	protected.POST("/categories/:category/topics/:topic/posts/:post/likes", handler.handleLikePost)
	protected.DELETE("/categories/:category/topics/:topic/posts/:post/likes", handler.handleUnlikePost)
	protected.PUT("/admins/:address", handler.handleAddAdmin)
	protected.DELETE("/admins/:address", handler.handleRemoveAdmin)
	protected.PUT("/moderators/:address", handler.handleAddModerator)
	protected.DELETE("/moderators/:address", handler.handleRemoveModerator)
	protected.PUT("/ban/:address", handler.handleBan)
	protected.DELETE("/ban/:address", handler.handleUnban)

	return router, nil
}

type httpHandler struct {
	forum  *forum.Service
	tokens AddressTokenManager
	logger *zap.Logger
}

type tokenRequestPayload struct {
	Address string `json:"address"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	address, err := forum.NewAddress(request.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAddressToken(c.Request.Context(), address.String())
	if err != nil {
		h.logger.Error("failed to issue address token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(callerAddressContextKey, subject)
	c.Next()
}

func (h *httpHandler) caller(c *gin.Context) (forum.Address, bool) {
	address, err := forum.NewAddress(c.GetString(callerAddressContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return address, true
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	var forumErr *forum.Error
	if errors.As(err, &forumErr) {
		c.JSON(statusForKind(forumErr.Kind), gin.H{"error": forumErr.Message})
		return
	}
	if errors.Is(err, forum.ErrInvalidAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("forum operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func statusForKind(kind forum.Kind) int {
	switch kind {
	case forum.KindNotFound:
		return http.StatusNotFound
	case forum.KindForbidden:
		return http.StatusForbidden
	case forum.KindConflict:
		return http.StatusConflict
	case forum.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parsePostIndex(c *gin.Context) (int, bool) {
	raw := c.Param("post")
	index, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_index"})
		return 0, false
	}
	return index, true
}

// payload shapes

type revisionPayload struct {
	EditedAtSeconds int64  `json:"edited_at_s"`
	PreviousValue   string `json:"previous_value"`
}

type postPayload struct {
	ID               string            `json:"id"`
	TopicID          string            `json:"topic_id"`
	Position         int               `json:"position"`
	Body             string            `json:"body"`
	CreatedBy        string            `json:"created_by"`
	CreatedAtSeconds int64             `json:"created_at_s"`
	Deleted          bool              `json:"deleted"`
	Likes            []string          `json:"likes"`
	History          []revisionPayload `json:"edit_history"`
}

type topicPayload struct {
	ID                  string            `json:"id"`
	CategoryID          string            `json:"category_id"`
	Title               string            `json:"title"`
	Body                string            `json:"body"`
	CreatedBy           string            `json:"created_by"`
	CreatedAtSeconds    int64             `json:"created_at_s"`
	Deleted             bool              `json:"deleted"`
	Pinned              bool              `json:"pinned"`
	Closed              bool              `json:"closed"`
	LastActivitySeconds int64             `json:"last_activity_s"`
	Likes               []string          `json:"likes"`
	TitleHistory        []revisionPayload `json:"title_edit_history"`
	BodyHistory         []revisionPayload `json:"edit_history"`
	Posts               []postPayload     `json:"posts,omitempty"`
}

func revisionPayloads(views []forum.RevisionView) []revisionPayload {
	payloads := make([]revisionPayload, 0, len(views))
	for _, view := range views {
		payloads = append(payloads, revisionPayload{
			EditedAtSeconds: view.EditedAtSeconds,
			PreviousValue:   view.PreviousValue,
		})
	}
	return payloads
}

func postPayloadFrom(view forum.PostView) postPayload {
	likes := view.Likes
	if likes == nil {
		likes = []string{}
	}
	return postPayload{
		ID:               view.Post.ID,
		TopicID:          view.Post.TopicID,
		Position:         view.Post.Position,
		Body:             view.Post.Body,
		CreatedBy:        view.Post.CreatedBy,
		CreatedAtSeconds: view.Post.CreatedAtSeconds,
		Deleted:          view.Post.Deleted,
		Likes:            likes,
		History:          revisionPayloads(view.History),
	}
}

func topicPayloadFrom(view forum.TopicView) topicPayload {
	likes := view.Likes
	if likes == nil {
		likes = []string{}
	}
	posts := make([]postPayload, 0, len(view.Posts))
	for _, post := range view.Posts {
		posts = append(posts, postPayloadFrom(post))
	}
	return topicPayload{
		ID:                  view.Topic.ID,
		CategoryID:          view.Topic.CategoryID,
		Title:               view.Topic.Title,
		Body:                view.Topic.Body,
		CreatedBy:           view.Topic.CreatedBy,
		CreatedAtSeconds:    view.Topic.CreatedAtSeconds,
		Deleted:             view.Topic.Deleted,
		Pinned:              view.Topic.Pinned,
		Closed:              view.Topic.Closed,
		LastActivitySeconds: view.Topic.LastActivitySeconds,
		Likes:               likes,
		TitleHistory:        revisionPayloads(view.TitleHistory),
		BodyHistory:         revisionPayloads(view.BodyHistory),
		Posts:               posts,
	}
}

func topicSummaryFrom(topic forum.Topic) topicPayload {
	return topicPayload{
		ID:                  topic.ID,
		CategoryID:          topic.CategoryID,
		Title:               topic.Title,
		Body:                topic.Body,
		CreatedBy:           topic.CreatedBy,
		CreatedAtSeconds:    topic.CreatedAtSeconds,
		Deleted:             topic.Deleted,
		Pinned:              topic.Pinned,
		Closed:              topic.Closed,
		LastActivitySeconds: topic.LastActivitySeconds,
		Likes:               []string{},
		TitleHistory:        []revisionPayload{},
		BodyHistory:         []revisionPayload{},
	}
}

// read handlers

func (h *httpHandler) handleListCategories(c *gin.Context) {
	ids, err := h.forum.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": ids})
}

func (h *httpHandler) handleListTopics(c *gin.Context) {
	topics, err := h.forum.ListTopics(c.Request.Context(), c.Param("category"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]topicPayload, 0, len(topics))
	for _, topic := range topics {
		payloads = append(payloads, topicSummaryFrom(topic))
	}
	c.JSON(http.StatusOK, gin.H{"topics": payloads})
}

func (h *httpHandler) handleGetTopic(c *gin.Context) {
	view, err := h.forum.GetTopic(c.Request.Context(), c.Param("category"), c.Param("topic"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, topicPayloadFrom(view))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	index, ok := parsePostIndex(c)
	if !ok {
		return
	}
	view, err := h.forum.GetPost(c.Request.Context(), c.Param("category"), c.Param("topic"), index)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, postPayloadFrom(view))
}

func (h *httpHandler) handleListAdmins(c *gin.Context) {
	h.respondAddressList(c, "admins", h.forum.ListAdmins)
}

func (h *httpHandler) handleListModerators(c *gin.Context) {
	h.respondAddressList(c, "moderators", h.forum.ListModerators)
}

func (h *httpHandler) handleListBanned(c *gin.Context) {
	h.respondAddressList(c, "banned", h.forum.ListBanned)
}

func (h *httpHandler) respondAddressList(c *gin.Context, key string, load func(context.Context) ([]string, error)) {
	addresses, err := load(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if addresses == nil {
		addresses = []string{}
	}
	c.JSON(http.StatusOK, gin.H{key: addresses})
}

// content handlers

type createCategoryPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request createCategoryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	category, err := h.forum.CreateCategory(c.Request.Context(), caller, request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":           category.CategoryID,
		"name":         category.Name,
		"created_by":   category.CreatedBy,
		"created_at_s": category.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleDeleteCategory(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.forum.DeleteCategory(c.Request.Context(), caller, c.Param("category")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createTopicPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *httpHandler) handleCreateTopic(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request createTopicPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	topic, err := h.forum.CreateTopic(c.Request.Context(), caller, c.Param("category"), request.Title, request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, topicSummaryFrom(topic))
}

type editTopicPayload struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

func (h *httpHandler) handleEditTopic(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request editTopicPayload
	if err := c.ShouldBindJSON(&request); err != nil || (request.Title == nil && request.Body == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	categoryID := c.Param("category")
	topicID := c.Param("topic")
	if request.Title != nil {
		if err := h.forum.EditTopicTitle(c.Request.Context(), caller, categoryID, topicID, *request.Title); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if request.Body != nil {
		if err := h.forum.EditTopicBody(c.Request.Context(), caller, categoryID, topicID, *request.Body); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

type pinTopicPayload struct {
	Pinned *bool `json:"pinned"`
}

func (h *httpHandler) handlePinTopic(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request pinTopicPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Pinned == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.forum.SetTopicPinned(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), *request.Pinned); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type closeTopicPayload struct {
	Closed *bool `json:"closed"`
}

func (h *httpHandler) handleCloseTopic(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request closeTopicPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Closed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.forum.SetTopicClosed(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), *request.Closed); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createPostPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	post, err := h.forum.CreatePost(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, postPayloadFrom(forum.PostView{Post: post}))
}

type editPostPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleEditPost(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	index, ok := parsePostIndex(c)
	if !ok {
		return
	}
	var request editPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.forum.EditPostBody(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), index, request.Body); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	index, ok := parsePostIndex(c)
	if !ok {
		return
	}
	if err := h.forum.SoftDeletePost(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), index); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// like handlers

func (h *httpHandler) handleLikeTopic(c *gin.Context) {
	h.toggleTopicLike(c, true)
}

func (h *httpHandler) handleUnlikeTopic(c *gin.Context) {
	h.toggleTopicLike(c, false)
}

func (h *httpHandler) toggleTopicLike(c *gin.Context, shouldLike bool) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.forum.ToggleTopicLike(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), shouldLike); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLikePost(c *gin.Context) {
	h.togglePostLike(c, true)
}

func (h *httpHandler) handleUnlikePost(c *gin.Context) {
	h.togglePostLike(c, false)
}

func (h *httpHandler) togglePostLike(c *gin.Context, shouldLike bool) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	index, ok := parsePostIndex(c)
	if !ok {
		return
	}
	if err := h.forum.TogglePostLike(c.Request.Context(), caller, c.Param("category"), c.Param("topic"), index, shouldLike); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// registry handlers

func (h *httpHandler) handleAddAdmin(c *gin.Context) {
	h.registryMutation(c, h.forum.AddAdmin)
}

func (h *httpHandler) handleRemoveAdmin(c *gin.Context) {
	h.registryMutation(c, h.forum.RemoveAdmin)
}

func (h *httpHandler) handleAddModerator(c *gin.Context) {
	h.registryMutation(c, h.forum.AddModerator)
}

func (h *httpHandler) handleRemoveModerator(c *gin.Context) {
	h.registryMutation(c, h.forum.RemoveModerator)
}

func (h *httpHandler) handleBan(c *gin.Context) {
	h.registryMutation(c, h.forum.Ban)
}

func (h *httpHandler) handleUnban(c *gin.Context) {
	h.registryMutation(c, h.forum.Unban)
}

func (h *httpHandler) registryMutation(c *gin.Context, op func(context.Context, forum.Address, forum.Address) error) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	target, err := forum.NewAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address"})
		return
	}
	if err := op(c.Request.Context(), caller, target); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
