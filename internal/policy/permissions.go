package policy

import (
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
)

// View names the surface a comment is rendered on.
type View string

const (
	ViewMain    View = "main"
	ViewUser    View = "user"
	ViewPreview View = "preview"
	ViewPinned  View = "pinned"
)

// Vote denial reasons, in evaluation order.
const (
	ReasonVoteUserView  = "Voting allowed only on post's page"
	ReasonVoteReadOnly  = "Can't vote on read-only topics"
	ReasonVoteDeleted   = "Can't vote for deleted comment"
	ReasonVoteGuest     = "Sign in to vote"
	ReasonVoteAnonymous = "Anonymous users can't vote"
	ReasonVoteOwn       = "Can't vote for your own comment"
)

// Decision is the outcome of a permission check. Reason is empty when allowed
// and may be empty for denials that need no explanation.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// CanVote decides whether the viewer may vote on the comment at all. The first
// matching rule wins. A nil viewer is a guest.
func CanVote(viewer *comments.User, comment comments.Comment, post comments.PostInfo, cfg StaticConfig, view View, now time.Time) Decision {
	switch {
	case view == ViewUser:
		return deny(ReasonVoteUserView)
	case post.ReadOnly:
		return deny(ReasonVoteReadOnly)
	case comment.Delete:
		return deny(ReasonVoteDeleted)
	case viewer == nil:
		return deny(ReasonVoteGuest)
	case viewer.IsAnonymous() && !cfg.AnonVote:
		return deny(ReasonVoteAnonymous)
	case viewer.ID == comment.User.ID:
		return deny(ReasonVoteOwn)
	}
	return allow()
}

// CanVoteDirection refines CanVote for one button: a vote already cast in the
// same direction disables that button so a vote can be flipped but not doubled.
func CanVoteDirection(viewer *comments.User, comment comments.Comment, post comments.PostInfo, cfg StaticConfig, view View, direction comments.VoteDirection, now time.Time) Decision {
	decision := CanVote(viewer, comment, post, cfg, view, now)
	if !decision.Allowed {
		return decision
	}
	if comment.Vote == direction.Int() {
		return deny("")
	}
	return allow()
}

// CanEdit reports whether the viewer may still edit the comment. The edit window
// is the half-open interval [created, created+edit_duration).
func CanEdit(comment comments.Comment, viewer *comments.User, cfg StaticConfig, now time.Time) bool {
	if viewer == nil || viewer.ID != comment.User.ID || comment.Delete {
		return false
	}
	createdAt, err := comment.CreatedAt()
	if err != nil {
		return false
	}
	return now.Sub(createdAt) < cfg.EditWindow()
}

// EditRemaining returns the time left in the edit window, floored at zero.
func EditRemaining(comment comments.Comment, cfg StaticConfig, now time.Time) time.Duration {
	createdAt, err := comment.CreatedAt()
	if err != nil {
		return 0
	}
	remaining := cfg.EditWindow() - now.Sub(createdAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanReply reports whether the viewer may answer the comment.
func CanReply(viewer *comments.User, comment comments.Comment, post comments.PostInfo, view View) bool {
	return viewer != nil && !post.ReadOnly && !comment.Delete && view == ViewMain
}

// IsAdmin reports whether the viewer has moderation rights.
func IsAdmin(viewer *comments.User) bool {
	return viewer != nil && viewer.Admin
}
