// Package installs tracks widget installs and persists their sort preference.
package installs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInstall indicates an install id that is neither empty nor a UUID.
	ErrInvalidInstall = errors.New("installs: invalid install id")
	// ErrUnknownInstall indicates a well-formed install id that was never issued.
	ErrUnknownInstall = errors.New("installs: unknown install")
)

// ServiceConfig describes the dependencies required for install resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service issues install ids and stores the sort preference in the database.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the install service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("installs: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Resolve returns the canonical install id for the raw value presented by a
// client. An empty value issues a new install. A well-formed id that has not
// been seen is adopted so a client keeps its id across database resets.
func (s *Service) Resolve(ctx context.Context, raw, postURL string) (string, error) {
	candidate := normalize(raw)
	if candidate == "" {
		return s.issue(ctx, postURL)
	}
	parsed, err := uuid.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInstall, err)
	}
	installID := parsed.String()

	if _, ok := s.cache.Load(installID); ok {
		return installID, nil
	}

	var install Install
	err = s.db.WithContext(ctx).Where("install_id = ?", installID).First(&install).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		install = Install{ID: installID, PostURL: normalize(postURL), LastSeenAt: s.now()}
		if err := s.db.WithContext(ctx).Create(&install).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if url := normalize(postURL); url != "" && url != install.PostURL {
			updates["post_url"] = url
		}
		_ = s.db.WithContext(ctx).Model(&Install{}).
			Where("install_id = ?", installID).
			Updates(updates).
			Error
	}

	s.cache.Store(installID, struct{}{})
	return installID, nil
}

func (s *Service) issue(ctx context.Context, postURL string) (string, error) {
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	install := Install{ID: identifier.String(), PostURL: normalize(postURL), LastSeenAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&install).Error; err != nil {
		return "", err
	}
	s.cache.Store(install.ID, struct{}{})
	return install.ID, nil
}

// LoadSort returns the stored sorting, or an empty Sorting when none is stored.
func (s *Service) LoadSort(ctx context.Context, installID string) (comments.Sorting, error) {
	var install Install
	err := s.db.WithContext(ctx).Select("sort").Where("install_id = ?", installID).First(&install).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownInstall, installID)
	}
	if err != nil {
		return "", err
	}
	if install.Sorting == "" {
		return "", nil
	}
	return comments.NewSorting(install.Sorting)
}

// SaveSort persists the sorting for an existing install.
func (s *Service) SaveSort(ctx context.Context, installID string, sorting comments.Sorting) error {
	if _, err := comments.NewSorting(sorting.String()); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&Install{}).
		Where("install_id = ?", installID).
		Update("sort", sorting.String())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownInstall, installID)
	}
	return nil
}
