package widget

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"go.uber.org/zap"
)

// Popup is the window the OAuth handshake runs in.
type Popup interface {
	Closed() bool
}

// SignIn polls the popup on a fixed interval until it closes, then fetches the
// viewer. Reaching the timeout resolves to no user and is not an error.
func (r *Root) SignIn(ctx context.Context, popup Popup) (*comments.User, error) {
	r.mu.Lock()
	if r.signingIn {
		r.mu.Unlock()
		return nil, ErrSignInInProgress
	}
	r.signingIn = true
	r.mu.Unlock()
	r.notify()

	defer func() {
		r.mu.Lock()
		r.signingIn = false
		r.mu.Unlock()
		r.notify()
	}()

	ticker := time.NewTicker(r.oauthPollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(r.oauthTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			r.logger.Info("sign-in timed out")
			return nil, nil
		case <-ticker.C:
			if !popup.Closed() {
				continue
			}
			viewer, err := r.api.FetchViewer(ctx)
			if err != nil {
				r.logFetchFailure("widget.sign_in", err)
				return nil, nil
			}
			r.mu.Lock()
			r.viewer = viewer
			r.mu.Unlock()
			if viewer != nil {
				r.logger.Info("viewer signed in", zap.String("user_id", viewer.ID))
			}
			return viewer, nil
		}
	}
}

// SignOut logs the viewer out. The local viewer is cleared even when the
// server call fails.
func (r *Root) SignOut(ctx context.Context) error {
	err := r.api.LogOut(ctx)
	if err != nil {
		r.logFetchFailure("widget.sign_out", err)
	}
	r.mu.Lock()
	r.viewer = nil
	r.mode = ModeComments
	r.blocked = nil
	r.mu.Unlock()
	r.notify()
	return err
}

// RefreshViewer re-resolves the viewer after the credential changed outside
// the popup flow. A failed fetch leaves a guest.
func (r *Root) RefreshViewer(ctx context.Context) *comments.User {
	viewer, err := r.api.FetchViewer(ctx)
	if err != nil {
		r.logFetchFailure("widget.refresh_viewer", err)
		viewer = nil
	}
	r.mu.Lock()
	r.viewer = viewer
	if viewer == nil {
		r.mode = ModeComments
	}
	r.mu.Unlock()
	r.notify()
	return viewer
}
