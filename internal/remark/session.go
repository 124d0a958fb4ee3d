package remark

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
)

// Session binds the client to one post page and the viewer's credential.
// The credential can be swapped as the viewer signs in and out.
type Session struct {
	client  *Client
	postURL string

	mu    sync.RWMutex
	token string
}

// NewSession returns a session for the given post page.
func (c *Client) NewSession(postURL string) *Session {
	return &Session{client: c, postURL: postURL}
}

// SetToken replaces the credential sent with subsequent calls.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the current credential.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) call(ctx context.Context, req request) error {
	req.token = s.Token()
	return s.client.do(ctx, req)
}

func (s *Session) postQuery() url.Values {
	return url.Values{"url": {s.postURL}}
}

func (s *Session) FetchConfig(ctx context.Context) (policy.StaticConfig, error) {
	cfg := policy.DefaultStaticConfig()
	err := s.call(ctx, request{method: http.MethodGet, path: "/config", decodes: &cfg})
	return cfg, err
}

func (s *Session) FetchTree(ctx context.Context, sorting comments.Sorting, postURL string) (comments.Tree, error) {
	if postURL == "" {
		postURL = s.postURL
	}
	var tree comments.Tree
	err := s.call(ctx, request{
		method: http.MethodGet,
		path:   "/find",
		query: url.Values{
			"url":    {postURL},
			"sort":   {sorting.String()},
			"format": {"tree"},
		},
		decodes: &tree,
	})
	return tree, err
}

// FetchViewer resolves the signed-in user. Any failure, including a missing or
// expired credential, resolves to a guest.
func (s *Session) FetchViewer(ctx context.Context) (*comments.User, error) {
	if s.Token() == "" {
		return nil, nil
	}
	var user comments.User
	if err := s.call(ctx, request{method: http.MethodGet, path: "/user", decodes: &user}); err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			return nil, nil
		}
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

type createCommentRequest struct {
	Text     string           `json:"text"`
	ParentID string           `json:"pid,omitempty"`
	Locator  comments.Locator `json:"locator"`
}

func (s *Session) AddComment(ctx context.Context, text, parentID, postURL string) (comments.Comment, error) {
	if postURL == "" {
		postURL = s.postURL
	}
	var created comments.Comment
	err := s.call(ctx, request{
		method: http.MethodPost,
		path:   "/comment",
		body: createCommentRequest{
			Text:     text,
			ParentID: parentID,
			Locator:  comments.Locator{SiteID: s.client.siteID, URL: postURL},
		},
		decodes: &created,
	})
	return created, err
}

func (s *Session) Vote(ctx context.Context, commentID string, direction comments.VoteDirection) error {
	query := s.postQuery()
	query.Set("vote", strconv.Itoa(direction.Int()))
	return s.call(ctx, request{method: http.MethodPut, path: "/vote/" + url.PathEscape(commentID), query: query})
}

type editCommentRequest struct {
	Text   string `json:"text,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

func (s *Session) EditComment(ctx context.Context, commentID, text string) (comments.Comment, error) {
	var updated comments.Comment
	err := s.call(ctx, request{
		method:  http.MethodPut,
		path:    "/comment/" + url.PathEscape(commentID),
		query:   s.postQuery(),
		body:    editCommentRequest{Text: text},
		decodes: &updated,
	})
	return updated, err
}

func (s *Session) DeleteComment(ctx context.Context, commentID string) error {
	return s.call(ctx, request{method: http.MethodDelete, path: "/admin/comment/" + url.PathEscape(commentID), query: s.postQuery()})
}

func (s *Session) PinComment(ctx context.Context, commentID string, pinned bool) error {
	query := s.postQuery()
	query.Set("pin", flag(pinned))
	return s.call(ctx, request{method: http.MethodPut, path: "/admin/pin/" + url.PathEscape(commentID), query: query})
}

// BlockUser blocks the user. A permanent block carries no ttl parameter.
func (s *Session) BlockUser(ctx context.Context, userID string, ttl comments.BlockTTL) error {
	query := url.Values{"block": {"1"}}
	if ttl != comments.BlockPermanently {
		query.Set("ttl", string(ttl))
	}
	return s.call(ctx, request{method: http.MethodPut, path: "/admin/user/" + url.PathEscape(userID), query: query})
}

func (s *Session) UnblockUser(ctx context.Context, userID string) error {
	return s.call(ctx, request{method: http.MethodPut, path: "/admin/user/" + url.PathEscape(userID), query: url.Values{"block": {"0"}}})
}

func (s *Session) FetchBlockedUsers(ctx context.Context) ([]comments.BlockedUser, error) {
	var blocked []comments.BlockedUser
	err := s.call(ctx, request{method: http.MethodGet, path: "/admin/blocked", decodes: &blocked})
	return blocked, err
}

func (s *Session) SetVerified(ctx context.Context, userID string, verified bool) error {
	query := url.Values{"verified": {flag(verified)}}
	return s.call(ctx, request{method: http.MethodPut, path: "/admin/verify/" + url.PathEscape(userID), query: query})
}

func (s *Session) SetReadOnly(ctx context.Context, postURL string, readOnly bool) error {
	if postURL == "" {
		postURL = s.postURL
	}
	query := url.Values{"url": {postURL}, "ro": {flag(readOnly)}}
	return s.call(ctx, request{method: http.MethodPut, path: "/admin/readonly", query: query})
}

// LogOut ends the backend session and drops the local credential.
func (s *Session) LogOut(ctx context.Context) error {
	err := s.call(ctx, request{method: http.MethodGet, path: "/auth/logout", noAPI: true})
	s.SetToken("")
	return err
}

func flag(value bool) string {
	if value {
		return "1"
	}
	return "0"
}
