package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/auth"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/installs"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/widget"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testPostURL       = "https://blog.example.com/post"
	testSigningSecret = "test-signing-secret"
)

var testViewers = map[string]comments.User{
	"admin":   {ID: "github_admin", Name: "Admin", Admin: true},
	"regular": {ID: "github_reader", Name: "Reader"},
}

// stubSession is an in-memory backend keyed by the forwarded credential.
type stubSession struct {
	mu      sync.Mutex
	token   string
	tree    comments.Tree
	viewers map[string]comments.User
	votes   []comments.VoteDirection
}

func newStubSession(postURL string, viewers map[string]comments.User) *stubSession {
	return &stubSession{
		viewers: viewers,
		tree: comments.Tree{
			Comments: comments.Forest{
				{Comment: comments.Comment{ID: "c1", Text: "first", User: comments.User{ID: "author"}, Score: 2, Time: "2024-01-01T10:00:00Z", Locator: comments.Locator{URL: postURL}}},
				{Comment: comments.Comment{ID: "c2", Text: "second", User: comments.User{ID: "author"}, Score: 4, Time: "2024-01-02T10:00:00Z", Locator: comments.Locator{URL: postURL}}},
			},
			Info: comments.PostInfo{URL: postURL, Count: 2},
		},
	}
}

func (s *stubSession) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *stubSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubSession) FetchConfig(context.Context) (policy.StaticConfig, error) {
	return policy.DefaultStaticConfig(), nil
}

func (s *stubSession) FetchTree(context.Context, comments.Sorting, string) (comments.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree, nil
}

func (s *stubSession) FetchViewer(context.Context) (*comments.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, user := range s.viewers {
		if signTestSession(name) == s.token {
			viewer := user
			return &viewer, nil
		}
	}
	return nil, nil
}

func (s *stubSession) AddComment(_ context.Context, text, parentID, postURL string) (comments.Comment, error) {
	return comments.Comment{ID: "new", ParentID: parentID, Text: text, Time: "2024-01-03T10:00:00Z", Locator: comments.Locator{URL: postURL}}, nil
}

func (s *stubSession) Vote(_ context.Context, _ string, direction comments.VoteDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, direction)
	return nil
}

func (s *stubSession) EditComment(_ context.Context, commentID, text string) (comments.Comment, error) {
	return comments.Comment{ID: commentID, Text: text}, nil
}

func (s *stubSession) DeleteComment(context.Context, string) error     { return nil }
func (s *stubSession) PinComment(context.Context, string, bool) error  { return nil }
func (s *stubSession) UnblockUser(context.Context, string) error       { return nil }
func (s *stubSession) SetVerified(context.Context, string, bool) error { return nil }
func (s *stubSession) SetReadOnly(context.Context, string, bool) error { return nil }
func (s *stubSession) LogOut(context.Context) error                    { return nil }

func (s *stubSession) BlockUser(context.Context, string, comments.BlockTTL) error {
	return nil
}

func (s *stubSession) FetchBlockedUsers(context.Context) ([]comments.BlockedUser, error) {
	return []comments.BlockedUser{{ID: "spammer", Name: "Spammer"}}, nil
}

var _ SessionAPI = (*stubSession)(nil)

func signTestSession(viewer string) string {
	user := testViewers[viewer]
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.DefaultSessionIssuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)),
		},
	})
	signed, _ := token.SignedString([]byte(testSigningSecret))
	return signed
}

type testHarness struct {
	handler  http.Handler
	sessions map[string]*stubSession
	mu       sync.Mutex
	realtime *RealtimeDispatcher
}

func newTestHarness(t *testing.T, logger *zap.Logger) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(githubsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&installs.Install{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	installService, err := installs.NewService(installs.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create install service: %v", err)
	}

	harness := &testHarness{sessions: map[string]*stubSession{}, realtime: NewRealtimeDispatcher()}
	registry, err := NewRegistry(RegistryConfig{
		Sessions: func(postURL string) SessionAPI {
			session := newStubSession(postURL, testViewers)
			harness.mu.Lock()
			harness.sessions[postURL] = session
			harness.mu.Unlock()
			return session
		},
		Sorts:    installService,
		Realtime: harness.realtime,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	harness.handler, err = NewHTTPHandler(Dependencies{
		Installs:          installService,
		Registry:          registry,
		Sessions:          validator,
		Realtime:          harness.realtime,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return harness
}

type testCall struct {
	method    string
	path      string
	postURL   string
	installID string
	viewer    string
	body      any
}

func (h *testHarness) do(t *testing.T, call testCall) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if call.body != nil {
		if err := json.NewEncoder(&body).Encode(call.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	separator := "?"
	if strings.Contains(call.path, "?") {
		separator = "&"
	}
	postURL := call.postURL
	if postURL == "" {
		postURL = testPostURL
	}
	request := httptest.NewRequest(call.method, call.path+separator+"url="+postURL, &body)
	request.Header.Set("Content-Type", "application/json")
	if call.installID != "" {
		request.Header.Set(installHeader, call.installID)
	}
	if call.viewer != "" {
		request.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: signTestSession(call.viewer)})
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeSnapshot(t *testing.T, recorder *httptest.ResponseRecorder) widget.Snapshot {
	t.Helper()
	var snapshot widget.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v (%s)", err, recorder.Body.String())
	}
	return snapshot
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingInstallResolver) {
		t.Fatalf("expected missing resolver error, got %v", err)
	}
}

func TestStateIssuesInstallAndRendersThreads(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())

	recorder := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	installID := recorder.Header().Get(installHeader)
	if installID == "" {
		t.Fatalf("expected install id header")
	}
	snapshot := decodeSnapshot(t, recorder)
	if snapshot.Load != widget.LoadLoaded || snapshot.Viewer != nil {
		t.Fatalf("expected loaded guest state, got %s viewer %#v", snapshot.Load, snapshot.Viewer)
	}
	if len(snapshot.Threads) != 2 || snapshot.Threads[0].Comment.ID != "c2" {
		t.Fatalf("expected score-sorted threads, got %#v", snapshot.Threads)
	}
	if !snapshot.Threads[0].State.Votes.Up.Disabled || snapshot.Threads[0].State.Votes.Up.Title != policy.ReasonVoteGuest {
		t.Fatalf("expected guests to be denied voting, got %#v", snapshot.Threads[0].State.Votes)
	}

	again := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", installID: installID})
	if again.Header().Get(installHeader) != installID {
		t.Fatalf("expected install id to be echoed")
	}

	missing := httptest.NewRecorder()
	harness.handler.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/widget/state", http.NoBody))
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected missing post url to be rejected, got %d", missing.Code)
	}
	if bad := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", installID: "garbage"}); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed install to be rejected, got %d", bad.Code)
	}
}

func TestOneInstallKeepsSeparateWidgetsPerPost(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	const (
		firstPost  = "https://blog.example.com/a"
		secondPost = "https://blog.example.com/b"
	)

	first := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", postURL: firstPost, viewer: "regular"})
	installID := first.Header().Get(installHeader)
	if snapshot := decodeSnapshot(t, first); snapshot.Post.URL != firstPost {
		t.Fatalf("expected first post, got %q", snapshot.Post.URL)
	}

	sortResponse := harness.do(t, testCall{method: http.MethodPut, path: "/widget/sort", postURL: firstPost, installID: installID, viewer: "regular", body: gin.H{"sort": "+time"}})
	if sortResponse.Code != http.StatusOK {
		t.Fatalf("unexpected sort status %d", sortResponse.Code)
	}

	second := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", postURL: secondPost, installID: installID, viewer: "regular"})
	if second.Header().Get(installHeader) != installID {
		t.Fatalf("expected the install to be kept across posts")
	}
	snapshot := decodeSnapshot(t, second)
	if snapshot.Post.URL != secondPost {
		t.Fatalf("requested %q, got info for %q", secondPost, snapshot.Post.URL)
	}
	for _, thread := range snapshot.Threads {
		if thread.Comment.Locator.URL != secondPost {
			t.Fatalf("expected threads of %q, got locator %q", secondPost, thread.Comment.Locator.URL)
		}
	}
	if snapshot.Sorting != comments.SortTimeAsc {
		t.Fatalf("expected the install sorting to follow it to the second post, got %s", snapshot.Sorting)
	}

	created := harness.do(t, testCall{method: http.MethodPost, path: "/widget/comments", postURL: secondPost, installID: installID, viewer: "regular", body: gin.H{"text": "hello b"}})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected add comment status %d", created.Code)
	}
	var payload addCommentResponsePayload
	if err := json.Unmarshal(created.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode add comment: %v", err)
	}
	if payload.Comment.Locator.URL != secondPost {
		t.Fatalf("expected comment to be posted to %q, got %q", secondPost, payload.Comment.Locator.URL)
	}

	firstAgain := decodeSnapshot(t, harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", postURL: firstPost, installID: installID, viewer: "regular"}))
	if firstAgain.Post.URL != firstPost || firstAgain.Post.Count != 2 {
		t.Fatalf("expected first post to be untouched, got %#v", firstAgain.Post)
	}
}

func TestCredentialChangeSwitchesViewer(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	state := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", viewer: "regular"})
	installID := state.Header().Get(installHeader)

	switched := decodeSnapshot(t, harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", installID: installID, viewer: "admin"}))
	if switched.Viewer == nil || switched.Viewer.ID != "github_admin" {
		t.Fatalf("expected the latest credential to define the viewer, got %#v", switched.Viewer)
	}
	if len(switched.Threads) == 0 || !switched.Threads[0].State.VerificationClickable {
		t.Fatalf("expected admin view-state after the switch")
	}

	guest := decodeSnapshot(t, harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", installID: installID}))
	if guest.Viewer != nil {
		t.Fatalf("expected a request without credential to see a guest view, got %#v", guest.Viewer)
	}
}

func TestSignedInViewerVotesAndIsRefusedModeration(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	state := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", viewer: "regular"})
	installID := state.Header().Get(installHeader)
	if snapshot := decodeSnapshot(t, state); snapshot.Viewer == nil || snapshot.Viewer.ID != "github_reader" {
		t.Fatalf("expected signed-in viewer, got %#v", snapshot.Viewer)
	}

	vote := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/c1/vote", installID: installID, viewer: "regular", body: gin.H{"direction": 1}})
	if vote.Code != http.StatusOK {
		t.Fatalf("unexpected vote status %d: %s", vote.Code, vote.Body.String())
	}
	snapshot := decodeSnapshot(t, vote)
	for _, thread := range snapshot.Threads {
		if thread.Comment.ID == "c1" && (thread.Comment.Score != 3 || !thread.State.Votes.Up.Disabled) {
			t.Fatalf("expected applied upvote, got %#v", thread)
		}
	}

	repeat := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/c1/vote", installID: installID, viewer: "regular", body: gin.H{"direction": 1}})
	if repeat.Code != http.StatusConflict {
		t.Fatalf("expected repeated vote to conflict, got %d", repeat.Code)
	}
	if invalid := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/c1/vote", installID: installID, viewer: "regular", body: gin.H{"direction": 2}}); invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid direction to be rejected, got %d", invalid.Code)
	}
	if missing := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/zzz/vote", installID: installID, viewer: "regular", body: gin.H{"direction": -1}}); missing.Code != http.StatusNotFound {
		t.Fatalf("expected missing comment, got %d", missing.Code)
	}

	if blocked := harness.do(t, testCall{method: http.MethodGet, path: "/widget/blocked", installID: installID, viewer: "regular"}); blocked.Code != http.StatusForbidden {
		t.Fatalf("expected blocked overlay to be admin-only, got %d", blocked.Code)
	}
	if pin := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/c1/pin", installID: installID, viewer: "regular", body: gin.H{"pinned": true}}); pin.Code != http.StatusConflict {
		t.Fatalf("expected pin to be unavailable, got %d", pin.Code)
	}
}

func TestAdminModerationFlow(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	state := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", viewer: "admin"})
	installID := state.Header().Get(installHeader)

	pin := harness.do(t, testCall{method: http.MethodPut, path: "/widget/comments/c1/pin", installID: installID, viewer: "admin", body: gin.H{"pinned": true}})
	if pin.Code != http.StatusOK {
		t.Fatalf("unexpected pin status %d: %s", pin.Code, pin.Body.String())
	}
	if snapshot := decodeSnapshot(t, pin); len(snapshot.Pinned) != 1 || snapshot.Pinned[0].Comment.ID != "c1" {
		t.Fatalf("expected c1 pinned, got %#v", snapshot.Pinned)
	}

	blocked := harness.do(t, testCall{method: http.MethodGet, path: "/widget/blocked", installID: installID, viewer: "admin"})
	if snapshot := decodeSnapshot(t, blocked); snapshot.Mode != widget.ModeBlockedUsers || len(snapshot.BlockedUsers) != 1 {
		t.Fatalf("expected blocked overlay, got %#v", snapshot)
	}

	readOnly := harness.do(t, testCall{method: http.MethodPut, path: "/widget/readonly", installID: installID, viewer: "admin", body: gin.H{"read_only": true}})
	if snapshot := decodeSnapshot(t, readOnly); !snapshot.Post.ReadOnly {
		t.Fatalf("expected post to be read-only")
	}
	comment := harness.do(t, testCall{method: http.MethodPost, path: "/widget/comments", installID: installID, viewer: "admin", body: gin.H{"text": "hi"}})
	if comment.Code != http.StatusForbidden {
		t.Fatalf("expected commenting to be closed, got %d", comment.Code)
	}

	sortResponse := harness.do(t, testCall{method: http.MethodPut, path: "/widget/sort", installID: installID, viewer: "admin", body: gin.H{"sort": "+time"}})
	if snapshot := decodeSnapshot(t, sortResponse); snapshot.Sorting != comments.SortTimeAsc || snapshot.Threads[0].Comment.ID != "c1" {
		t.Fatalf("expected time ordering, got %#v", snapshot.Threads)
	}
	if bad := harness.do(t, testCall{method: http.MethodPut, path: "/widget/sort", installID: installID, viewer: "admin", body: gin.H{"sort": "sideways"}}); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid sort to be rejected, got %d", bad.Code)
	}

	link := harness.do(t, testCall{method: http.MethodGet, path: "/widget/deeplink/c2", installID: installID, viewer: "admin"})
	var resolved widget.DeepLink
	if err := json.Unmarshal(link.Body.Bytes(), &resolved); err != nil || !resolved.Found || resolved.ThreadIndex != 1 {
		t.Fatalf("unexpected deep link %s", link.Body.String())
	}
}

func TestAttachSessionLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	harness := newTestHarness(t, zap.New(core))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		User: testViewers["regular"],
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.DefaultSessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := expired.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/widget/state?url="+testPostURL, http.NoBody)
	request.Header.Set(auth.TokenHeader, signed)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected guest fallback, got %d", recorder.Code)
	}
	if snapshot := decodeSnapshot(t, recorder); snapshot.Viewer != nil {
		t.Fatalf("expected expired token to yield a guest")
	}
	entries := logs.FilterMessage("token validation failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one validation log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}

	request = httptest.NewRequest(http.MethodGet, "/widget/state?url="+testPostURL, http.NoBody)
	request.Header.Set(auth.TokenHeader, "not-a-jwt")
	harness.handler.ServeHTTP(httptest.NewRecorder(), request)
	entries = logs.FilterMessage("token validation failed").All()
	if len(entries) != 2 || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for malformed token, got %#v", entries)
	}
}

func TestStreamEmitsStateChangeEvents(t *testing.T) {
	harness := newTestHarness(t, zap.NewNop())
	server := httptest.NewServer(harness.handler)
	t.Cleanup(server.Close)

	state := harness.do(t, testCall{method: http.MethodGet, path: "/widget/state", viewer: "regular"})
	installID := state.Header().Get(installHeader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/widget/stream?url="+testPostURL, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set(installHeader, installID)
	streamRequest.Header.Set(auth.TokenHeader, signTestSession("regular"))
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	reader := bufio.NewReader(streamResp.Body)

	readEvent := func() string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		lines := make(chan string, 1)
		go func() {
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					close(lines)
					return
				}
				if strings.HasPrefix(line, "event:") {
					lines <- strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					return
				}
			}
		}()
		select {
		case event, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before an event arrived")
			}
			return event
		case <-deadline:
			t.Fatalf("expected stream event within deadline")
		}
		return ""
	}

	if event := readEvent(); event != RealtimeEventStateChanged {
		t.Fatalf("expected initial state-change, got %q", event)
	}

	more := harness.do(t, testCall{method: http.MethodPost, path: "/widget/more", installID: installID, viewer: "regular"})
	if more.Code != http.StatusOK {
		t.Fatalf("unexpected show more status %d", more.Code)
	}
	if event := readEvent(); event != RealtimeEventStateChanged {
		t.Fatalf("expected state-change after mutation, got %q", event)
	}
}
