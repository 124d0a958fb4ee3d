package widget

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/render"
	"go.uber.org/zap"
)

var _ render.Dispatcher = (*Root)(nil)

// Intents returns the bound intent callbacks of a loaded comment on the main view.
func (r *Root) Intents(commentID string) (render.Intents, error) {
	r.mu.Lock()
	node, found := comments.Find(r.forest, commentID)
	params := r.paramsLocked(policy.ViewMain)
	r.mu.Unlock()
	if !found {
		return render.Intents{}, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	return render.NewIntents(node.Comment, render.Evaluate(node.Comment, params), r), nil
}

// Vote sends the vote and applies it to the comment as currently held, so a
// tree refresh that landed meanwhile is not overwritten with stale fields.
func (r *Root) Vote(ctx context.Context, comment comments.Comment, direction comments.VoteDirection) error {
	if err := r.api.Vote(ctx, comment.ID, direction); err != nil {
		return err
	}
	r.updateComment("widget.vote", comment.ID, func(current comments.Comment) comments.Comment {
		return comments.ApplyVote(current, direction)
	})
	return nil
}

// Edit replaces the comment with the server's copy after an edit.
func (r *Root) Edit(ctx context.Context, comment comments.Comment, text string) error {
	updated, err := r.api.EditComment(ctx, comment.ID, text)
	if err != nil {
		return err
	}
	r.updateComment("widget.edit", comment.ID, func(comments.Comment) comments.Comment {
		return updated
	})
	return nil
}

// Delete tombstones the comment once the server confirms.
func (r *Root) Delete(ctx context.Context, comment comments.Comment) error {
	if err := r.api.DeleteComment(ctx, comment.ID); err != nil {
		return err
	}
	r.mu.Lock()
	forest, found := comments.MarkDeleted(r.forest, comment.ID)
	r.forest = forest
	r.mu.Unlock()
	if !found {
		r.logLookupMiss("widget.delete", comment.ID)
		return nil
	}
	r.notify()
	return nil
}

func (r *Root) Pin(ctx context.Context, comment comments.Comment, pinned bool) error {
	if err := r.api.PinComment(ctx, comment.ID, pinned); err != nil {
		return err
	}
	r.updateComment("widget.pin", comment.ID, func(current comments.Comment) comments.Comment {
		current.Pin = pinned
		return current
	})
	return nil
}

// Hide is local to the viewer and never reaches the server.
func (r *Root) Hide(_ context.Context, user comments.User) error {
	r.HideUser(user.ID)
	return nil
}

// Block blocks the author and re-fetches the tree, since the server decides
// how blocked authors' comments are presented.
func (r *Root) Block(ctx context.Context, user comments.User, ttl comments.BlockTTL) error {
	if err := r.api.BlockUser(ctx, user.ID, ttl); err != nil {
		return err
	}
	r.logger.Info("user blocked", zap.String("user_id", user.ID), zap.String("ttl", string(ttl)))
	r.Reload(ctx)
	return nil
}

// ToggleVerify updates the verification flag on every comment of the user.
func (r *Root) ToggleVerify(ctx context.Context, user comments.User, verified bool) error {
	if err := r.api.SetVerified(ctx, user.ID, verified); err != nil {
		return err
	}
	r.mu.Lock()
	r.forest = comments.UpdateAuthor(r.forest, user.ID, func(author comments.User) comments.User {
		author.Verified = verified
		return author
	})
	r.mu.Unlock()
	r.notify()
	return nil
}

// AddComment posts a comment. An empty parentID starts a new thread.
func (r *Root) AddComment(ctx context.Context, text, parentID string) (comments.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return comments.Comment{}, render.ErrEmptyText
	}

	r.mu.Lock()
	viewer := r.viewer
	post := r.post
	var parent comments.Node
	parentFound := true
	if parentID != "" {
		parent, parentFound = comments.Find(r.forest, parentID)
	}
	r.mu.Unlock()

	if viewer == nil || post.ReadOnly {
		return comments.Comment{}, ErrCommentingClosed
	}
	if !parentFound {
		return comments.Comment{}, fmt.Errorf("%w: %s", ErrCommentNotFound, parentID)
	}
	if parentID != "" && !policy.CanReply(viewer, parent.Comment, post, policy.ViewMain) {
		return comments.Comment{}, ErrCommentingClosed
	}

	created, err := r.api.AddComment(ctx, text, parentID, r.postURL)
	if err != nil {
		return comments.Comment{}, err
	}

	r.mu.Lock()
	if parentID == "" {
		r.forest = comments.AppendThread(r.forest, created)
	} else {
		forest, found := comments.InsertReply(r.forest, parentID, created)
		r.forest = forest
		if !found {
			r.logLookupMiss("widget.add_comment", parentID)
		}
	}
	r.post.Count++
	r.mu.Unlock()
	r.notify()
	return created, nil
}

// SetReadOnly opens or closes the post for new comments.
func (r *Root) SetReadOnly(ctx context.Context, readOnly bool) error {
	if !policy.IsAdmin(r.currentViewer()) {
		return ErrNotAdmin
	}
	if err := r.api.SetReadOnly(ctx, r.postURL, readOnly); err != nil {
		return err
	}
	r.mu.Lock()
	r.post.ReadOnly = readOnly
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *Root) updateComment(operation, commentID string, fn func(comments.Comment) comments.Comment) {
	r.mu.Lock()
	node, found := comments.Find(r.forest, commentID)
	if found {
		r.forest, _ = comments.ReplaceComment(r.forest, fn(node.Comment))
	}
	r.mu.Unlock()
	if !found {
		r.logLookupMiss(operation, commentID)
		return
	}
	r.notify()
}

// BlockUser blocks a user from the moderation surface.
func (r *Root) BlockUser(ctx context.Context, userID string, ttl comments.BlockTTL) error {
	if !policy.IsAdmin(r.currentViewer()) {
		return ErrNotAdmin
	}
	return r.Block(ctx, comments.User{ID: userID}, ttl)
}

// SetUserVerified sets the verification flag of a user.
func (r *Root) SetUserVerified(ctx context.Context, userID string, verified bool) error {
	if !policy.IsAdmin(r.currentViewer()) {
		return ErrNotAdmin
	}
	return r.ToggleVerify(ctx, comments.User{ID: userID}, verified)
}
