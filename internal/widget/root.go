// Package widget owns the top-level state of one embedded comment widget: the
// loaded tree, the sort choice, pagination, the blocked-users overlay and the
// viewer. It wires the reconciler and renderer to the network layer.
package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize          = 10
	defaultOAuthPollInterval = 300 * time.Millisecond
	defaultOAuthTimeout      = 30 * time.Second
)

var (
	errMissingAPI       = errors.New("widget: api dependency required")
	errMissingSortStore = errors.New("widget: sort store dependency required")
	errMissingInstallID = errors.New("widget: install id required")

	// ErrCommentNotFound indicates the comment is not part of the loaded tree.
	ErrCommentNotFound = errors.New("widget: comment not found")
	// ErrCommentingClosed indicates the viewer cannot post on this page.
	ErrCommentingClosed = errors.New("widget: commenting closed")
	// ErrNotAdmin indicates an admin-only operation requested by a regular viewer.
	ErrNotAdmin = errors.New("widget: admin rights required")
	// ErrSignInInProgress indicates a sign-in flow is already polling.
	ErrSignInInProgress = errors.New("widget: sign-in already in progress")
)

// LoadState is the lifecycle of the comment tree.
type LoadState string

const (
	LoadUninitialized LoadState = "uninitialized"
	LoadLoading       LoadState = "loading"
	LoadLoaded        LoadState = "loaded"
	LoadError         LoadState = "error"
)

// DisplayMode selects what the main panel shows.
type DisplayMode string

const (
	ModeComments     DisplayMode = "comments"
	ModeBlockedUsers DisplayMode = "blocked-users"
)

// API is the network layer consumed by the widget.
type API interface {
	FetchConfig(ctx context.Context) (policy.StaticConfig, error)
	FetchTree(ctx context.Context, sorting comments.Sorting, postURL string) (comments.Tree, error)
	FetchViewer(ctx context.Context) (*comments.User, error)
	AddComment(ctx context.Context, text, parentID, postURL string) (comments.Comment, error)
	Vote(ctx context.Context, commentID string, direction comments.VoteDirection) error
	EditComment(ctx context.Context, commentID, text string) (comments.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	PinComment(ctx context.Context, commentID string, pinned bool) error
	BlockUser(ctx context.Context, userID string, ttl comments.BlockTTL) error
	UnblockUser(ctx context.Context, userID string) error
	FetchBlockedUsers(ctx context.Context) ([]comments.BlockedUser, error)
	SetVerified(ctx context.Context, userID string, verified bool) error
	SetReadOnly(ctx context.Context, postURL string, readOnly bool) error
	LogOut(ctx context.Context) error
}

// SortStore persists the last chosen sorting per install.
type SortStore interface {
	LoadSort(ctx context.Context, installID string) (comments.Sorting, error)
	SaveSort(ctx context.Context, installID string, sorting comments.Sorting) error
}

// Config describes the dependencies and options of a Root.
type Config struct {
	InstallID         string
	PostURL           string
	API               API
	Sorts             SortStore
	Logger            *zap.Logger
	Clock             func() time.Time
	Paginate          bool
	PageSize          int
	MaxShown          int
	OAuthPollInterval time.Duration
	OAuthTimeout      time.Duration
	OnChange          func(installID string)
}

// Root is the orchestrator of one widget install. All methods are safe for
// concurrent use; network calls run without holding the state lock.
type Root struct {
	installID         string
	postURL           string
	api               API
	sorts             SortStore
	logger            *zap.Logger
	clock             func() time.Time
	paginate          bool
	pageSize          int
	oauthPollInterval time.Duration
	oauthTimeout      time.Duration
	onChange          func(installID string)

	mu            sync.Mutex
	load          LoadState
	mode          DisplayMode
	listLoading   bool
	sorting       comments.Sorting
	staticConfig  policy.StaticConfig
	viewer        *comments.User
	post          comments.PostInfo
	forest        comments.Forest
	blocked       []comments.BlockedUser
	hiddenUsers   map[string]bool
	commentsShown int
	unblocked     bool
	signingIn     bool
	notice        string
	generation    uint64
}

// NewRoot validates the configuration and returns an uninitialized Root.
func NewRoot(cfg Config) (*Root, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if cfg.Sorts == nil {
		return nil, errMissingSortStore
	}
	if cfg.InstallID == "" {
		return nil, errMissingInstallID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxShown := cfg.MaxShown
	if maxShown <= 0 {
		maxShown = pageSize
	}
	pollInterval := cfg.OAuthPollInterval
	if pollInterval <= 0 {
		pollInterval = defaultOAuthPollInterval
	}
	oauthTimeout := cfg.OAuthTimeout
	if oauthTimeout <= 0 {
		oauthTimeout = defaultOAuthTimeout
	}

	return &Root{
		installID:         cfg.InstallID,
		postURL:           cfg.PostURL,
		api:               cfg.API,
		sorts:             cfg.Sorts,
		logger:            logger.With(zap.String("install_id", cfg.InstallID)),
		clock:             clock,
		paginate:          cfg.Paginate,
		pageSize:          pageSize,
		oauthPollInterval: pollInterval,
		oauthTimeout:      oauthTimeout,
		onChange:          cfg.OnChange,
		load:              LoadUninitialized,
		mode:              ModeComments,
		sorting:           comments.DefaultSorting,
		staticConfig:      policy.DefaultStaticConfig(),
		hiddenUsers:       make(map[string]bool),
		commentsShown:     maxShown,
	}, nil
}

// InstallID returns the install the Root belongs to.
func (r *Root) InstallID() string {
	return r.installID
}

// Mount loads the stored sorting, then fetches the static config, the viewer
// and the tree concurrently. Fetch failures degrade to defaults: a failed
// viewer fetch yields a guest, a failed tree fetch an empty tree. A mount that
// ended in LoadError is retried by the next call.
func (r *Root) Mount(ctx context.Context) {
	r.mu.Lock()
	if r.load == LoadLoading || r.load == LoadLoaded {
		r.mu.Unlock()
		return
	}
	r.load = LoadLoading
	startGeneration := r.generation
	r.mu.Unlock()
	r.notify()

	sorting := comments.DefaultSorting
	if stored, err := r.sorts.LoadSort(ctx, r.installID); err != nil {
		r.logger.Debug("stored sorting unavailable", zap.Error(err))
	} else if stored != "" {
		sorting = stored
	}

	var (
		group        errgroup.Group
		staticConfig = policy.DefaultStaticConfig()
		viewer       *comments.User
		tree         comments.Tree
		notice       string
	)
	group.Go(func() error {
		fetched, err := r.api.FetchConfig(ctx)
		if err != nil {
			r.logFetchFailure("widget.mount.config", err)
			return nil
		}
		staticConfig = fetched
		return nil
	})
	group.Go(func() error {
		fetched, err := r.api.FetchViewer(ctx)
		if err != nil {
			r.logFetchFailure("widget.mount.viewer", err)
			return nil
		}
		viewer = fetched
		return nil
	})
	group.Go(func() error {
		fetched, err := r.api.FetchTree(ctx, sorting, r.postURL)
		if err != nil {
			r.logFetchFailure("widget.mount.tree", err)
			notice = "comments unavailable"
			return nil
		}
		tree = fetched
		return nil
	})
	_ = group.Wait()

	r.mu.Lock()
	r.staticConfig = staticConfig
	r.viewer = viewer
	// A sort change or reload started during the mount owns the list.
	if r.generation == startGeneration {
		r.sorting = sorting
		r.forest = tree.Comments
		r.post = tree.Info
		if r.post.URL == "" {
			r.post.URL = r.postURL
		}
		r.notice = notice
		r.listLoading = false
		r.generation++
	}
	r.load = LoadLoaded
	if ctx.Err() != nil {
		r.load = LoadError
		r.notice = "loading interrupted"
	}
	r.mu.Unlock()
	r.notify()
}

// ChangeSort switches the sorting, persists it best-effort and re-fetches the
// tree. Selecting the current sorting is a no-op. While the fetch runs only the
// thread list is in a loading state.
func (r *Root) ChangeSort(ctx context.Context, sorting comments.Sorting) error {
	if _, err := comments.NewSorting(sorting.String()); err != nil {
		return err
	}

	r.mu.Lock()
	if sorting == r.sorting {
		r.mu.Unlock()
		return nil
	}
	r.sorting = sorting
	r.listLoading = true
	r.generation++
	generation := r.generation
	r.mu.Unlock()
	r.notify()

	if err := r.sorts.SaveSort(ctx, r.installID, sorting); err != nil {
		r.logger.Debug("sorting not persisted", zap.Error(err))
	}

	tree, err := r.api.FetchTree(ctx, sorting, r.postURL)

	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		r.logger.Debug("discarding superseded tree", zap.String("sorting", sorting.String()))
		return nil
	}
	r.listLoading = false
	if err != nil {
		r.logFetchFailure("widget.change_sort", err)
		r.notice = "comments unavailable"
	} else {
		r.forest = tree.Comments
		r.post = mergePostInfo(r.post, tree.Info)
		r.notice = ""
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Reload re-fetches the tree under the current sorting. It supersedes a sort
// change still in flight and ends its loading state.
func (r *Root) Reload(ctx context.Context) {
	r.mu.Lock()
	r.generation++
	generation := r.generation
	sorting := r.sorting
	r.mu.Unlock()

	tree, err := r.api.FetchTree(ctx, sorting, r.postURL)

	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		return
	}
	r.listLoading = false
	if err != nil {
		r.logFetchFailure("widget.reload", err)
		r.notice = "comments unavailable"
	} else {
		r.forest = tree.Comments
		r.post = mergePostInfo(r.post, tree.Info)
		r.notice = ""
	}
	r.mu.Unlock()
	r.notify()
}

// ShowBlockedUsers fetches the block list and switches to the overlay.
func (r *Root) ShowBlockedUsers(ctx context.Context) error {
	if !policy.IsAdmin(r.currentViewer()) {
		return ErrNotAdmin
	}
	blocked, err := r.api.FetchBlockedUsers(ctx)
	if err != nil {
		r.logFetchFailure("widget.blocked_users", err)
		return err
	}

	r.mu.Lock()
	r.blocked = blocked
	r.mode = ModeBlockedUsers
	r.mu.Unlock()
	r.notify()
	return nil
}

// Unblock lifts a block from the overlay and remembers that the tree must be
// reloaded when the overlay closes.
func (r *Root) Unblock(ctx context.Context, userID string) error {
	if !policy.IsAdmin(r.currentViewer()) {
		return ErrNotAdmin
	}
	if err := r.api.UnblockUser(ctx, userID); err != nil {
		return err
	}

	r.mu.Lock()
	r.unblocked = true
	remaining := make([]comments.BlockedUser, 0, len(r.blocked))
	for _, user := range r.blocked {
		if user.ID != userID {
			remaining = append(remaining, user)
		}
	}
	r.blocked = remaining
	r.mu.Unlock()
	r.notify()
	return nil
}

// HideBlockedUsers closes the overlay. When someone was unblocked the tree is
// re-fetched first since unblocking can reveal replies the client never had.
func (r *Root) HideBlockedUsers(ctx context.Context) {
	r.mu.Lock()
	unblocked := r.unblocked
	r.mu.Unlock()

	if unblocked {
		r.Reload(ctx)
	}

	r.mu.Lock()
	r.mode = ModeComments
	r.unblocked = false
	r.mu.Unlock()
	r.notify()
}

// ShowMore extends the pagination window by one page.
func (r *Root) ShowMore() {
	r.mu.Lock()
	r.commentsShown += r.pageSize
	r.mu.Unlock()
	r.notify()
}

// DeepLink is the outcome of resolving a link to a comment.
type DeepLink struct {
	CommentID   string `json:"comment_id"`
	Found       bool   `json:"found"`
	ThreadIndex int    `json:"thread_index"`
	Expanded    bool   `json:"expanded"`
}

// ResolveDeepLink finds the thread holding the comment and, when pagination is
// on, widens the shown window so the thread is rendered before scrolling.
func (r *Root) ResolveDeepLink(commentID string) DeepLink {
	r.mu.Lock()
	view := comments.SortReplies(r.forest, r.sorting)
	index, found := comments.ThreadIndex(view, commentID)
	link := DeepLink{CommentID: commentID, Found: found, ThreadIndex: index}
	if found && r.paginate && index+1 > r.commentsShown {
		r.commentsShown = index + 1
		link.Expanded = true
	}
	r.mu.Unlock()

	if link.Expanded {
		r.notify()
	}
	return link
}

// HideUser hides the comments of a user for this viewer.
func (r *Root) HideUser(userID string) {
	r.setHidden(userID, true)
}

// ShowUser reverts HideUser.
func (r *Root) ShowUser(userID string) {
	r.setHidden(userID, false)
}

func (r *Root) setHidden(userID string, hidden bool) {
	r.mu.Lock()
	if hidden {
		r.hiddenUsers[userID] = true
	} else {
		delete(r.hiddenUsers, userID)
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Root) currentViewer() *comments.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewer
}

func (r *Root) notify() {
	if r.onChange != nil {
		r.onChange(r.installID)
	}
}

func (r *Root) logFetchFailure(operation string, err error) {
	r.logger.Warn("widget fetch failed", zap.String("operation", operation), zap.Error(err))
}

func (r *Root) logLookupMiss(operation, commentID string) {
	r.logger.Debug("comment not in tree", zap.String("operation", operation), zap.String("comment_id", commentID))
}

func mergePostInfo(current, fetched comments.PostInfo) comments.PostInfo {
	if fetched.URL == "" {
		fetched.URL = current.URL
	}
	return fetched
}
