package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/widget"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultMaxWidgets    = 10000
	defaultWidgetIdleTTL = 24 * time.Hour
	idleSweepInterval    = time.Minute
)

var (
	errMissingSessionFactory = errors.New("registry: session factory required")
	errMissingRegistrySorts  = errors.New("registry: sort store required")
)

// SessionAPI is the network layer of one install, bound to the viewer's credential.
type SessionAPI interface {
	widget.API
	SetToken(token string)
	Token() string
}

// SessionFactory opens the network layer for a post page.
type SessionFactory func(postURL string) SessionAPI

// WidgetOptions carries the widget settings shared by every install.
type WidgetOptions struct {
	Paginate          bool
	PageSize          int
	MaxShown          int
	OAuthPollInterval time.Duration
	OAuthTimeout      time.Duration
}

// RegistryConfig describes the dependencies of a Registry. MaxWidgets bounds
// the number of live widgets; IdleTTL drops widgets nobody requested for that long.
type RegistryConfig struct {
	Sessions   SessionFactory
	Sorts      widget.SortStore
	Options    WidgetOptions
	Realtime   *RealtimeDispatcher
	MaxWidgets int
	IdleTTL    time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Registry keeps one widget Root per install and post page. The least
// recently used widget is dropped once the bound is reached.
type Registry struct {
	sessions SessionFactory
	sorts    widget.SortStore
	options  WidgetOptions
	realtime *RealtimeDispatcher
	idleTTL  time.Duration
	logger   *zap.Logger
	clock    func() time.Time

	mu        sync.Mutex
	widgets   *lru.Cache[widgetKey, *installWidget]
	lastSweep time.Time
}

type widgetKey struct {
	installID string
	postURL   string
}

type installWidget struct {
	root     *widget.Root
	session  SessionAPI
	lastSeen time.Time
}

// NewRegistry validates the configuration and returns an empty Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Sessions == nil {
		return nil, errMissingSessionFactory
	}
	if cfg.Sorts == nil {
		return nil, errMissingRegistrySorts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxWidgets := cfg.MaxWidgets
	if maxWidgets <= 0 {
		maxWidgets = defaultMaxWidgets
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultWidgetIdleTTL
	}

	registry := &Registry{
		sessions: cfg.Sessions,
		sorts:    cfg.Sorts,
		options:  cfg.Options,
		realtime: cfg.Realtime,
		idleTTL:  idleTTL,
		logger:   logger,
		clock:    clock,
	}
	widgets, err := lru.NewWithEvict(maxWidgets, func(key widgetKey, _ *installWidget) {
		registry.logger.Debug("widget evicted", zap.String("install_id", key.installID), zap.String("post_url", key.postURL))
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	registry.widgets = widgets
	registry.lastSweep = clock()
	return registry, nil
}

// acquire returns the widget of the install on the post page, creating it on
// first use.
func (r *Registry) acquire(installID, postURL string) (*installWidget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	r.evictIdleLocked(now)

	key := widgetKey{installID: installID, postURL: postURL}
	if existing, ok := r.widgets.Get(key); ok {
		existing.lastSeen = now
		return existing, nil
	}

	session := r.sessions(postURL)
	var onChange func(string)
	if r.realtime != nil {
		onChange = r.realtime.NotifyStateChanged
	}
	root, err := widget.NewRoot(widget.Config{
		InstallID:         installID,
		PostURL:           postURL,
		API:               session,
		Sorts:             r.sorts,
		Logger:            r.logger,
		Clock:             r.clock,
		Paginate:          r.options.Paginate,
		PageSize:          r.options.PageSize,
		MaxShown:          r.options.MaxShown,
		OAuthPollInterval: r.options.OAuthPollInterval,
		OAuthTimeout:      r.options.OAuthTimeout,
		OnChange:          onChange,
	})
	if err != nil {
		return nil, err
	}
	entry := &installWidget{root: root, session: session, lastSeen: now}
	r.widgets.Add(key, entry)
	r.logger.Debug("widget created", zap.String("install_id", installID), zap.String("post_url", postURL))
	return entry, nil
}

// evictIdleLocked drops widgets not requested within the idle ttl. Keys come
// back oldest first, so the sweep stops at the first live widget.
func (r *Registry) evictIdleLocked(now time.Time) {
	if now.Sub(r.lastSweep) < idleSweepInterval {
		return
	}
	r.lastSweep = now
	for _, key := range r.widgets.Keys() {
		entry, ok := r.widgets.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.lastSeen) < r.idleTTL {
			return
		}
		r.widgets.Remove(key)
	}
}

// Len reports how many widgets are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.widgets.Len()
}
