// Package render derives the view-state of comments for a viewer. It decides
// which controls are available and never performs side effects itself.
package render

import (
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
)

const commentAnchorPrefix = "#remark42__comment-"

// Control names a moderation or visibility action shown under a comment.
type Control string

const (
	ControlCopy   Control = "copy"
	ControlPin    Control = "pin"
	ControlUnpin  Control = "unpin"
	ControlHide   Control = "hide"
	ControlBlock  Control = "block"
	ControlDelete Control = "delete"
)

// ScoreLevel classifies a score against the configured thresholds.
type ScoreLevel string

const (
	ScoreNormal   ScoreLevel = "normal"
	ScoreLow      ScoreLevel = "low"
	ScoreCritical ScoreLevel = "critical"
)

// VoteButton is the state of one vote control.
type VoteButton struct {
	Disabled bool   `json:"disabled"`
	Title    string `json:"title,omitempty"`
}

// VoteButtons holds the up and down controls.
type VoteButtons struct {
	Up   VoteButton `json:"up"`
	Down VoteButton `json:"down"`
}

// Params is everything besides the comment needed to derive its state.
type Params struct {
	Viewer      *comments.User
	Post        comments.PostInfo
	Config      policy.StaticConfig
	View        policy.View
	Now         time.Time
	HiddenUsers map[string]bool
}

// NodeState is the derived view-state of a single comment.
type NodeState struct {
	CommentID             string      `json:"id"`
	Text                  string      `json:"text"`
	Deleted               bool        `json:"deleted"`
	Pinned                bool        `json:"pinned"`
	Hidden                bool        `json:"hidden"`
	Votes                 VoteButtons `json:"votes"`
	Controls              []Control   `json:"controls"`
	Editable              bool        `json:"editable"`
	EditText              string      `json:"edit_text,omitempty"`
	EditSecondsLeft       int         `json:"edit_seconds_left"`
	Replyable             bool        `json:"replyable"`
	Verified              bool        `json:"verified"`
	VerificationClickable bool        `json:"verification_clickable"`
	ScoreLevel            ScoreLevel  `json:"score_level"`
	ScoreText             string      `json:"score_text"`
	Permalink             string      `json:"permalink"`
}

// Evaluate derives the state of one comment. The edit countdown is recomputed
// from params.Now on every call.
func Evaluate(comment comments.Comment, params Params) NodeState {
	state := NodeState{
		CommentID:             comment.ID,
		Text:                  comment.Text,
		Deleted:               comment.Delete,
		Pinned:                comment.Pin,
		Hidden:                params.HiddenUsers[comment.User.ID],
		Votes:                 voteButtons(comment, params),
		Controls:              controls(comment, params.Viewer),
		Replyable:             policy.CanReply(params.Viewer, comment, params.Post, params.View),
		Verified:              comment.User.Verified,
		VerificationClickable: policy.IsAdmin(params.Viewer),
		ScoreLevel:            scoreLevel(comment.Score, params.Config),
		ScoreText:             scoreText(comment.Score, params.Config),
		Permalink:             comment.Locator.URL + commentAnchorPrefix + comment.ID,
	}

	if comment.Delete {
		state.Text = ""
	}

	if params.View == policy.ViewMain && policy.CanEdit(comment, params.Viewer, params.Config, params.Now) {
		state.Editable = true
		state.EditText = comment.Orig
		state.EditSecondsLeft = int(policy.EditRemaining(comment, params.Config, params.Now) / time.Second)
	}

	return state
}

func voteButtons(comment comments.Comment, params Params) VoteButtons {
	up := policy.CanVoteDirection(params.Viewer, comment, params.Post, params.Config, params.View, comments.VoteUp, params.Now)
	down := policy.CanVoteDirection(params.Viewer, comment, params.Post, params.Config, params.View, comments.VoteDown, params.Now)
	return VoteButtons{
		Up:   VoteButton{Disabled: !up.Allowed, Title: up.Reason},
		Down: VoteButton{Disabled: !down.Allowed, Title: down.Reason},
	}
}

func controls(comment comments.Comment, viewer *comments.User) []Control {
	if comment.Delete {
		return []Control{}
	}
	if !policy.IsAdmin(viewer) {
		return []Control{ControlHide}
	}
	pin := ControlPin
	if comment.Pin {
		pin = ControlUnpin
	}
	return []Control{ControlCopy, pin, ControlHide, ControlBlock, ControlDelete}
}

func scoreLevel(score int, cfg policy.StaticConfig) ScoreLevel {
	switch {
	case score <= cfg.CriticalScore:
		return ScoreCritical
	case score <= cfg.LowScore:
		return ScoreLow
	default:
		return ScoreNormal
	}
}

func scoreText(score int, cfg policy.StaticConfig) string {
	switch {
	case score > 0:
		return "+" + strconv.Itoa(score)
	case score < 0 && !cfg.PositiveScore:
		return strconv.Itoa(score)
	default:
		return "0"
	}
}
