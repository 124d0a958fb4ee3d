package render

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
)

var (
	// ErrIntentUnavailable indicates the control is disabled or hidden for the viewer.
	ErrIntentUnavailable = errors.New("render: intent unavailable")
	// ErrEmptyText indicates an edit without content.
	ErrEmptyText = errors.New("render: empty text")
)

// Dispatcher performs intents against the network layer. It is bound by the caller.
type Dispatcher interface {
	Vote(ctx context.Context, comment comments.Comment, direction comments.VoteDirection) error
	Edit(ctx context.Context, comment comments.Comment, text string) error
	Delete(ctx context.Context, comment comments.Comment) error
	Pin(ctx context.Context, comment comments.Comment, pinned bool) error
	Hide(ctx context.Context, user comments.User) error
	Block(ctx context.Context, user comments.User, ttl comments.BlockTTL) error
	ToggleVerify(ctx context.Context, user comments.User, verified bool) error
}

// Intents binds the availability decided by Evaluate to a Dispatcher. Each
// method returns ErrIntentUnavailable without dispatching when the control is
// not available.
type Intents struct {
	comment    comments.Comment
	state      NodeState
	dispatcher Dispatcher
}

// NewIntents returns the intent callbacks for a comment and its derived state.
func NewIntents(comment comments.Comment, state NodeState, dispatcher Dispatcher) Intents {
	return Intents{comment: comment, state: state, dispatcher: dispatcher}
}

func (i Intents) OnVote(ctx context.Context, direction comments.VoteDirection) error {
	button := i.state.Votes.Up
	if direction == comments.VoteDown {
		button = i.state.Votes.Down
	}
	if button.Disabled {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Vote(ctx, i.comment, direction)
}

func (i Intents) OnEdit(ctx context.Context, text string) error {
	if !i.state.Editable {
		return ErrIntentUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return i.dispatcher.Edit(ctx, i.comment, text)
}

func (i Intents) OnDelete(ctx context.Context) error {
	if !i.has(ControlDelete) {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Delete(ctx, i.comment)
}

func (i Intents) OnPin(ctx context.Context) error {
	if !i.has(ControlPin) {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Pin(ctx, i.comment, true)
}

func (i Intents) OnUnpin(ctx context.Context) error {
	if !i.has(ControlUnpin) {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Pin(ctx, i.comment, false)
}

func (i Intents) OnHide(ctx context.Context) error {
	if !i.has(ControlHide) {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Hide(ctx, i.comment.User)
}

func (i Intents) OnBlock(ctx context.Context, ttl comments.BlockTTL) error {
	if !i.has(ControlBlock) {
		return ErrIntentUnavailable
	}
	return i.dispatcher.Block(ctx, i.comment.User, ttl)
}

func (i Intents) OnVerifyToggle(ctx context.Context) error {
	if !i.state.VerificationClickable {
		return ErrIntentUnavailable
	}
	return i.dispatcher.ToggleVerify(ctx, i.comment.User, !i.comment.User.Verified)
}

func (i Intents) has(control Control) bool {
	return slices.Contains(i.state.Controls, control)
}
