package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"postline/internal/entity"
	"postline/internal/lifecycle"
	"postline/internal/repo/persistent"
	"postline/internal/usecase"
	"postline/pkg/logger"

	"github.com/gin-gonic/gin"
)

type LifecycleHandler struct {
	lifecycle usecase.LifecycleUseCase
	logger    *logger.Logger
}

func NewLifecycleHandler(lifecycle usecase.LifecycleUseCase, logger *logger.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

func (h *LifecycleHandler) formatPostResponse(post *entity.Post) map[string]interface{} {
	response := map[string]interface{}{
		"id":          post.ID,
		"author_id":   post.AuthorID,
		"platform":    post.Platform,
		"content":     post.Content,
		"status":      post.Status,
		"retry_count": post.RetryCount,
		"created_at":  post.CreatedAt,
		"updated_at":  post.UpdatedAt,
	}

	if post.ScheduledTime != nil {
		response["scheduled_time"] = post.ScheduledTime
	}
	if post.ApprovedBy != "" {
		response["approved_by"] = post.ApprovedBy
	}
	if post.RejectedBy != "" {
		response["rejected_by"] = post.RejectedBy
		response["rejected_reason"] = post.RejectedReason
	}
	if post.ArchivedReason != "" {
		response["archived_reason"] = post.ArchivedReason
	}
	if post.ExternalPostID != "" {
		response["external_post_id"] = post.ExternalPostID
	}
	if post.LastError != "" {
		response["last_error"] = post.LastError
	}

	return response
}

// respondError maps domain errors onto HTTP statuses. Rejected
// transitions carry the current status and the events it accepts so a
// client can render what is actually possible.
func (h *LifecycleHandler) respondError(c *gin.Context, err error) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		legal := make([]string, len(invalid.Legal))
		for i, ev := range invalid.Legal {
			legal[i] = string(ev)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        invalid.Error(),
			"status":       invalid.Status,
			"legal_events": legal,
		})
	case errors.Is(err, persistent.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
	case errors.Is(err, persistent.ErrStaleState):
		c.JSON(http.StatusConflict, gin.H{"error": "Post changed concurrently, retry the request"})
	default:
		h.logger.Error("Lifecycle operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

type CreateDraftRequest struct {
	Platform string `json:"platform" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// CreateDraft godoc
// @Summary      Create a draft post
// @Description  Create a new post in draft status for the authenticated author
// @Tags         posts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateDraftRequest true "Draft content"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /posts [post]
func (h *LifecycleHandler) CreateDraft(c *gin.Context) {
	userID := c.GetString("user_id")

	var req CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.lifecycle.CreateDraft(userID, req.Platform, req.Content)
	if err != nil {
		h.logger.Error("Failed to create draft: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create draft"})
		return
	}

	c.JSON(http.StatusCreated, h.formatPostResponse(post))
}

// GetPost godoc
// @Summary      Get post by ID
// @Description  Get post details including its lifecycle status
// @Tags         posts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id} [get]
func (h *LifecycleHandler) GetPost(c *gin.Context) {
	post, err := h.lifecycle.GetPost(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

// ListPosts godoc
// @Summary      List posts by status
// @Description  Get posts filtered by lifecycle status
// @Tags         posts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        status query string true "Lifecycle status" Enums(draft, needs_review, approved, rejected, scheduled, publishing, published, failed, archived)
// @Param        limit query int false "Number of posts to return (max 100)"
// @Param        offset query int false "Offset for pagination"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /posts [get]
func (h *LifecycleHandler) ListPosts(c *gin.Context) {
	status := entity.PostStatus(c.Query("status"))
	if status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status query parameter is required"})
		return
	}

	limit := 20
	offset := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	posts, err := h.lifecycle.ListByStatus(status, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list posts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	formatted := make([]map[string]interface{}, len(posts))
	for i, post := range posts {
		formatted[i] = h.formatPostResponse(post)
	}

	c.JSON(http.StatusOK, gin.H{"posts": formatted, "count": len(formatted), "offset": offset})
}

// SubmitForReview godoc
// @Summary      Submit post for review
// @Description  Move a draft post into the review queue
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/submit [post]
func (h *LifecycleHandler) SubmitForReview(c *gin.Context) {
	post, err := h.lifecycle.SubmitForReview(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

// ApprovePost godoc
// @Summary      Approve post
// @Description  Approve a post awaiting review. The authenticated reviewer is recorded.
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/approve [post]
func (h *LifecycleHandler) ApprovePost(c *gin.Context) {
	post, err := h.lifecycle.Approve(c.Param("id"), c.GetString("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

type RejectPostRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectPost godoc
// @Summary      Reject post
// @Description  Reject a post awaiting review with a reason
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Param        request body RejectPostRequest true "Rejection reason"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/reject [post]
func (h *LifecycleHandler) RejectPost(c *gin.Context) {
	var req RejectPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.lifecycle.Reject(c.Param("id"), c.GetString("user_id"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

type EditPostRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditPost godoc
// @Summary      Edit post content
// @Description  Replace post content. Editing an approved post sends it back through review; editing a rejected or archived post returns it to draft.
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Param        request body EditPostRequest true "New content"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id} [put]
func (h *LifecycleHandler) EditPost(c *gin.Context) {
	var req EditPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.lifecycle.Edit(c.Param("id"), req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

type SchedulePostRequest struct {
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	Platform      string    `json:"platform"`
}

// SchedulePost godoc
// @Summary      Schedule post for publication
// @Description  Schedule an approved post to be published at the given time
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Param        request body SchedulePostRequest true "Publication time (RFC 3339)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/schedule [post]
func (h *LifecycleHandler) SchedulePost(c *gin.Context) {
	var req SchedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.lifecycle.Schedule(c.Param("id"), req.ScheduledTime, req.Platform)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

// UnschedulePost godoc
// @Summary      Unschedule post
// @Description  Pull a scheduled post back to approved before the scheduler claims it
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /posts/{id}/unschedule [post]
func (h *LifecycleHandler) UnschedulePost(c *gin.Context) {
	post, err := h.lifecycle.Unschedule(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

// RetryPost godoc
// @Summary      Retry failed publication
// @Description  Move a failed post back to scheduled for another publish attempt. Rejected once the retry budget is spent.
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/retry [post]
func (h *LifecycleHandler) RetryPost(c *gin.Context) {
	post, err := h.lifecycle.Retry(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

type ArchivePostRequest struct {
	Reason string `json:"reason"`
}

// ArchivePost godoc
// @Summary      Archive post
// @Description  Archive a post, recording why and what state it was in
// @Tags         lifecycle
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Param        request body ArchivePostRequest false "Archive reason"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id}/archive [post]
func (h *LifecycleHandler) ArchivePost(c *gin.Context) {
	var req ArchivePostRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	post, err := h.lifecycle.Archive(c.Param("id"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.formatPostResponse(post))
}

// DeletePost godoc
// @Summary      Delete post
// @Description  Permanently delete a post. Live published posts must be archived first.
// @Tags         posts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Post ID"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /posts/{id} [delete]
func (h *LifecycleHandler) DeletePost(c *gin.Context) {
	if err := h.lifecycle.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}
