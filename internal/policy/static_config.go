// Package policy evaluates per-comment permissions for a viewer.
//
// Every evaluator is a pure function of its arguments: the static configuration
// and the current time are passed explicitly instead of being read from globals.
package policy

import "time"

// StaticConfig holds the global policy knobs published by the comment service.
type StaticConfig struct {
	Version        string   `json:"version"`
	EditDuration   int      `json:"edit_duration"`
	MaxCommentSize int      `json:"max_comment_size"`
	MaxImageSize   int      `json:"max_image_size"`
	Admins         []string `json:"admins"`
	AdminEmail     string   `json:"admin_email"`
	AuthProviders  []string `json:"auth_providers"`
	LowScore       int      `json:"low_score"`
	CriticalScore  int      `json:"critical_score"`
	PositiveScore  bool     `json:"positive_score"`
	ReadOnlyAge    int      `json:"readonly_age"`
	AnonVote       bool     `json:"anon_vote"`
}

// DefaultStaticConfig is used when the comment service config cannot be fetched.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		EditDuration:   300,
		MaxCommentSize: 3000,
		MaxImageSize:   5000,
		LowScore:       -5,
		CriticalScore:  -15,
	}
}

// EditWindow returns the edit duration as a time.Duration.
func (c StaticConfig) EditWindow() time.Duration {
	if c.EditDuration <= 0 {
		return 0
	}
	return time.Duration(c.EditDuration) * time.Second
}
