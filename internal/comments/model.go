package comments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	anonymousUserPrefix = "anonymous_"
)

var (
	// ErrInvalidCommentID indicates that a comment identifier is empty or exceeds storage bounds.
	ErrInvalidCommentID = errors.New("comments: invalid comment id")
	// ErrInvalidVoteDirection indicates a vote value outside of {-1, +1}.
	ErrInvalidVoteDirection = errors.New("comments: invalid vote direction")
	// ErrInvalidBlockTTL indicates an unsupported block duration token.
	ErrInvalidBlockTTL = errors.New("comments: invalid block ttl")
	// ErrInvalidTimestamp indicates that a comment time could not be parsed.
	ErrInvalidTimestamp = errors.New("comments: invalid timestamp")
)

// CommentID represents a validated comment identifier.
type CommentID string

// NewCommentID validates raw input and returns a CommentID.
func NewCommentID(rawInput string) (CommentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCommentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCommentID, maxIdentifierLength)
	}
	return CommentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CommentID) String() string {
	return string(id)
}

// VoteDirection is a single up or down vote.
type VoteDirection int

const (
	// VoteUp adds one point to the comment score.
	VoteUp VoteDirection = 1
	// VoteDown removes one point from the comment score.
	VoteDown VoteDirection = -1
)

// NewVoteDirection validates the value and returns a VoteDirection.
func NewVoteDirection(value int) (VoteDirection, error) {
	switch value {
	case 1:
		return VoteUp, nil
	case -1:
		return VoteDown, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidVoteDirection, value)
	}
}

// Int exposes the raw vote value.
func (d VoteDirection) Int() int {
	return int(d)
}

// BlockTTL is the duration token accepted by the comment service when blocking a user.
type BlockTTL string

const (
	BlockPermanently BlockTTL = "permanently"
	BlockMonth       BlockTTL = "43200m"
	BlockWeek        BlockTTL = "10080m"
	BlockDay         BlockTTL = "1440m"
)

// NewBlockTTL validates raw input and returns a BlockTTL.
func NewBlockTTL(rawInput string) (BlockTTL, error) {
	switch ttl := BlockTTL(strings.TrimSpace(rawInput)); ttl {
	case BlockPermanently, BlockMonth, BlockWeek, BlockDay:
		return ttl, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBlockTTL, rawInput)
	}
}

// Locator identifies the page a comment belongs to.
type Locator struct {
	SiteID string `json:"site"`
	URL    string `json:"url"`
}

// User is a comment author or the current viewer.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Admin    bool   `json:"admin"`
	Verified bool   `json:"verified,omitempty"`
	Blocked  bool   `json:"block,omitempty"`
}

// IsAnonymous reports whether the user signed in through anonymous auth.
func (u User) IsAnonymous() bool {
	return strings.HasPrefix(u.ID, anonymousUserPrefix)
}

// Edit records the last modification of a comment.
type Edit struct {
	Time    string `json:"time"`
	Summary string `json:"summary"`
}

// Comment is a single comment as delivered by the comment service. Vote is the
// current viewer's vote, not a global tally.
type Comment struct {
	ID          string  `json:"id"`
	ParentID    string  `json:"pid"`
	Text        string  `json:"text"`
	Orig        string  `json:"orig,omitempty"`
	User        User    `json:"user"`
	Locator     Locator `json:"locator"`
	Score       int     `json:"score"`
	Vote        int     `json:"vote"`
	Controversy float64 `json:"controversy,omitempty"`
	Time        string  `json:"time"`
	Title       string  `json:"title,omitempty"`
	Edit        *Edit   `json:"edit,omitempty"`
	Pin         bool    `json:"pin,omitempty"`
	Delete      bool    `json:"delete,omitempty"`
}

// CreatedAt parses the comment timestamp.
func (c Comment) CreatedAt() (time.Time, error) {
	return ParseTime(c.Time)
}

// IsTopLevel reports whether the comment starts a thread.
func (c Comment) IsTopLevel() bool {
	return c.ParentID == ""
}

// ApplyVote returns the comment with the viewer's vote and the score moved by
// one step in the given direction. Voting against an existing vote cancels it.
func ApplyVote(c Comment, direction VoteDirection) Comment {
	c.Vote += direction.Int()
	c.Score += direction.Int()
	return c
}

// Node is a comment together with its ordered replies.
type Node struct {
	Comment Comment `json:"comment"`
	Replies []Node  `json:"replies,omitempty"`
}

// Forest is the ordered sequence of top-level threads of a post.
type Forest []Node

// PostInfo carries per-post state.
type PostInfo struct {
	URL         string `json:"url"`
	Count       int    `json:"count"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	FirstTime   string `json:"first_time,omitempty"`
	LastTime    string `json:"last_time,omitempty"`
	ReadOnlyAge int    `json:"read_only_age,omitempty"`
}

// Tree is the payload of a post fetch.
type Tree struct {
	Comments Forest   `json:"comments"`
	Info     PostInfo `json:"info"`
}

// BlockedUser is an entry of the moderation block list.
type BlockedUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Time string `json:"time"`
}

// ParseTime parses RFC3339 timestamps, tolerating fractional seconds.
func ParseTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	return parsed, nil
}
