package widget

import (
	"maps"
	"slices"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/policy"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/render"
)

// Snapshot is the rendered state of a widget at one instant.
type Snapshot struct {
	InstallID    string                 `json:"install_id"`
	Load         LoadState              `json:"load"`
	Mode         DisplayMode            `json:"mode"`
	ListLoading  bool                   `json:"list_loading"`
	Sorting      comments.Sorting       `json:"sort"`
	Viewer       *comments.User         `json:"user"`
	Post         comments.PostInfo      `json:"info"`
	Config       policy.StaticConfig    `json:"config"`
	Threads      []render.NodeView      `json:"threads"`
	Pinned       []render.NodeView      `json:"pinned"`
	BlockedUsers []comments.BlockedUser `json:"blocked_users,omitempty"`
	HiddenUsers  []string               `json:"hidden_users,omitempty"`
	TotalThreads int                    `json:"total_threads"`
	HasMore      bool                   `json:"has_more"`
	SigningIn    bool                   `json:"signing_in"`
	Notice       string                 `json:"notice,omitempty"`
}

// Snapshot renders the current state. Threads are sorted here, so the stored
// forest keeps server order and sort changes never reshuffle it in place.
func (r *Root) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	params := r.paramsLocked(policy.ViewMain)
	sorted := comments.SortReplies(r.forest, r.sorting)
	shown := sorted
	hasMore := false
	if r.paginate && len(sorted) > r.commentsShown {
		shown = sorted[:r.commentsShown]
		hasMore = true
	}

	snapshot := Snapshot{
		InstallID:    r.installID,
		Load:         r.load,
		Mode:         r.mode,
		ListLoading:  r.listLoading,
		Sorting:      r.sorting,
		Viewer:       r.viewer,
		Post:         r.post,
		Config:       r.staticConfig,
		Threads:      render.RenderForest(shown, params),
		Pinned:       render.RenderPinned(comments.CollectPinned(r.forest), params),
		HiddenUsers:  slices.Sorted(maps.Keys(r.hiddenUsers)),
		TotalThreads: len(sorted),
		HasMore:      hasMore,
		SigningIn:    r.signingIn,
		Notice:       r.notice,
	}
	if r.mode == ModeBlockedUsers {
		snapshot.BlockedUsers = append([]comments.BlockedUser(nil), r.blocked...)
	}
	return snapshot
}

func (r *Root) paramsLocked(view policy.View) render.Params {
	return render.Params{
		Viewer:      r.viewer,
		Post:        r.post,
		Config:      r.staticConfig,
		View:        view,
		Now:         r.clock(),
		HiddenUsers: maps.Clone(r.hiddenUsers),
	}
}
