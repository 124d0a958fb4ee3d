package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/remark"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/render"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/widget"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sortRequestPayload struct {
	Sort string `json:"sort"`
}

type addCommentRequestPayload struct {
	Text     string `json:"text"`
	ParentID string `json:"pid"`
}

type addCommentResponsePayload struct {
	Comment comments.Comment `json:"comment"`
	State   widget.Snapshot  `json:"state"`
}

type textRequestPayload struct {
	Text string `json:"text"`
}

type voteRequestPayload struct {
	Direction int `json:"direction"`
}

type pinRequestPayload struct {
	Pinned bool `json:"pinned"`
}

type blockRequestPayload struct {
	TTL string `json:"ttl"`
}

type verifyRequestPayload struct {
	Verified bool `json:"verified"`
}

type hiddenRequestPayload struct {
	Hidden bool `json:"hidden"`
}

type readOnlyRequestPayload struct {
	ReadOnly bool `json:"read_only"`
}

func (h *httpHandler) handleState(c *gin.Context) {
	entry := widgetFromContext(c)
	entry.root.Mount(c.Request.Context())
	c.JSON(http.StatusOK, entry.root.Snapshot())
}

func (h *httpHandler) handleChangeSort(c *gin.Context) {
	var request sortRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	sorting, err := comments.NewSorting(request.Sort)
	if err != nil {
		h.respondError(c, "widget.change_sort", err)
		return
	}
	h.respondSnapshot(c, "widget.change_sort", func(ctx context.Context, root *widget.Root) error {
		return root.ChangeSort(ctx, sorting)
	})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request addCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	entry := widgetFromContext(c)
	created, err := entry.root.AddComment(c.Request.Context(), request.Text, request.ParentID)
	if err != nil {
		h.respondError(c, "widget.add_comment", err)
		return
	}
	c.JSON(http.StatusCreated, addCommentResponsePayload{Comment: created, State: entry.root.Snapshot()})
}

func (h *httpHandler) handleEditComment(c *gin.Context) {
	var request textRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondIntent(c, "widget.edit", func(ctx context.Context, intents render.Intents) error {
		return intents.OnEdit(ctx, request.Text)
	})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	h.respondIntent(c, "widget.delete", func(ctx context.Context, intents render.Intents) error {
		return intents.OnDelete(ctx)
	})
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	direction, err := comments.NewVoteDirection(request.Direction)
	if err != nil {
		h.respondError(c, "widget.vote", err)
		return
	}
	h.respondIntent(c, "widget.vote", func(ctx context.Context, intents render.Intents) error {
		return intents.OnVote(ctx, direction)
	})
}

func (h *httpHandler) handlePin(c *gin.Context) {
	var request pinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondIntent(c, "widget.pin", func(ctx context.Context, intents render.Intents) error {
		if request.Pinned {
			return intents.OnPin(ctx)
		}
		return intents.OnUnpin(ctx)
	})
}

func (h *httpHandler) handleBlockUser(c *gin.Context) {
	var request blockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ttl, err := comments.NewBlockTTL(request.TTL)
	if err != nil {
		h.respondError(c, "widget.block", err)
		return
	}
	userID := c.Param("id")
	h.respondSnapshot(c, "widget.block", func(ctx context.Context, root *widget.Root) error {
		return root.BlockUser(ctx, userID, ttl)
	})
}

func (h *httpHandler) handleUnblockUser(c *gin.Context) {
	userID := c.Param("id")
	h.respondSnapshot(c, "widget.unblock", func(ctx context.Context, root *widget.Root) error {
		return root.Unblock(ctx, userID)
	})
}

func (h *httpHandler) handleVerifyUser(c *gin.Context) {
	var request verifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.Param("id")
	h.respondSnapshot(c, "widget.verify", func(ctx context.Context, root *widget.Root) error {
		return root.SetUserVerified(ctx, userID, request.Verified)
	})
}

func (h *httpHandler) handleHiddenUser(c *gin.Context) {
	var request hiddenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.Param("id")
	h.respondSnapshot(c, "widget.hidden", func(_ context.Context, root *widget.Root) error {
		if request.Hidden {
			root.HideUser(userID)
		} else {
			root.ShowUser(userID)
		}
		return nil
	})
}

func (h *httpHandler) handleShowBlocked(c *gin.Context) {
	h.respondSnapshot(c, "widget.blocked_users", func(ctx context.Context, root *widget.Root) error {
		return root.ShowBlockedUsers(ctx)
	})
}

func (h *httpHandler) handleHideBlocked(c *gin.Context) {
	h.respondSnapshot(c, "widget.hide_blocked_users", func(ctx context.Context, root *widget.Root) error {
		root.HideBlockedUsers(ctx)
		return nil
	})
}

func (h *httpHandler) handleShowMore(c *gin.Context) {
	h.respondSnapshot(c, "widget.show_more", func(_ context.Context, root *widget.Root) error {
		root.ShowMore()
		return nil
	})
}

func (h *httpHandler) handleDeepLink(c *gin.Context) {
	entry := widgetFromContext(c)
	entry.root.Mount(c.Request.Context())
	link := entry.root.ResolveDeepLink(c.Param("id"))
	if !link.Found {
		c.JSON(http.StatusNotFound, link)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *httpHandler) handleReadOnly(c *gin.Context) {
	var request readOnlyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.respondSnapshot(c, "widget.read_only", func(ctx context.Context, root *widget.Root) error {
		return root.SetReadOnly(ctx, request.ReadOnly)
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	entry := widgetFromContext(c)
	if err := entry.root.SignOut(c.Request.Context()); err != nil {
		h.logger.Info("backend logout failed", zap.Error(err))
	}
	c.SetCookie(h.cookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, entry.root.Snapshot())
}

func (h *httpHandler) respondSnapshot(c *gin.Context, operation string, apply func(context.Context, *widget.Root) error) {
	entry := widgetFromContext(c)
	if err := apply(c.Request.Context(), entry.root); err != nil {
		h.respondError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, entry.root.Snapshot())
}

func (h *httpHandler) respondIntent(c *gin.Context, operation string, apply func(context.Context, render.Intents) error) {
	h.respondSnapshot(c, operation, func(ctx context.Context, root *widget.Root) error {
		intents, err := root.Intents(c.Param("id"))
		if err != nil {
			return err
		}
		return apply(ctx, intents)
	})
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("install_id", c.GetString(installIDContextKey)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("widget operation failed", fields...)
	} else {
		h.logger.Debug("widget operation rejected", fields...)
	}
	c.JSON(status, gin.H{"error": code})
}

func classifyError(err error) (int, string) {
	var apiErr *remark.APIError
	switch {
	case errors.Is(err, widget.ErrCommentNotFound):
		return http.StatusNotFound, "comment_not_found"
	case errors.Is(err, widget.ErrNotAdmin):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, widget.ErrCommentingClosed):
		return http.StatusForbidden, "commenting_closed"
	case errors.Is(err, render.ErrIntentUnavailable):
		return http.StatusConflict, "intent_unavailable"
	case errors.Is(err, widget.ErrSignInInProgress):
		return http.StatusConflict, "sign_in_in_progress"
	case errors.Is(err, render.ErrEmptyText),
		errors.Is(err, comments.ErrInvalidSorting),
		errors.Is(err, comments.ErrInvalidVoteDirection),
		errors.Is(err, comments.ErrInvalidBlockTTL):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &apiErr):
		if apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError {
			return apiErr.Status, "upstream_rejected"
		}
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
