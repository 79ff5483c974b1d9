package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AnalystID is the stable identifier of a signal source. It is derived once at
// registration and never changes, so ledger rows can always refer to it.
type AnalystID string

type AnalystSource string

const (
	AnalystSourceChannel AnalystSource = "channel"
	AnalystSourceUser    AnalystSource = "user"
	AnalystSourceManual  AnalystSource = "manual"
)

// Analyst holds identity and trust metrics for a signal source.
// Counters, win rate and expected value are only written by the tracker.
type Analyst struct {
	ID        AnalystID     `gorm:"primaryKey;size:120" json:"id"`
	Name      string        `gorm:"size:255;not null" json:"name"`
	Source    AnalystSource `gorm:"size:20;not null" json:"source"`
	SourceRef string        `gorm:"size:120;index" json:"source_ref,omitempty"` // normalized external handle
	Notes     string        `gorm:"type:text" json:"notes,omitempty"`

	Enabled bool `gorm:"not null" json:"enabled"`
	Removed bool `gorm:"not null;index" json:"removed"`

	Trades           int64   `gorm:"not null" json:"trades"`
	Wins             int64   `gorm:"not null" json:"wins"`
	Losses           int64   `gorm:"not null" json:"losses"`
	WinRate          float64 `gorm:"not null" json:"win_rate"`
	ExpectedValue    float64 `gorm:"not null" json:"expected_value"`
	BelowFloorStreak int     `gorm:"not null" json:"below_floor_streak"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// TableName keeps the analysts table name stable across refactors.
func (Analyst) TableName() string {
	return "analysts"
}

// Active reports whether the analyst may still have its signals evaluated.
func (a Analyst) Active() bool {
	return a.Enabled && !a.Removed
}

// ParseAnalystSource accepts both the stored values and the labels used by
// the dashboard ("Discord Channel", "Discord User", "Manual").
func ParseAnalystSource(raw string) (AnalystSource, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("discord", "", "_", " ", "-", " ").Replace(s)
	switch strings.TrimSpace(s) {
	case "channel":
		return AnalystSourceChannel, nil
	case "user":
		return AnalystSourceUser, nil
	case "manual", "":
		return AnalystSourceManual, nil
	}
	return "", fmt.Errorf("unsupported analyst source %q", raw)
}

var (
	discordMention = regexp.MustCompile(`^<[@#][!&]?(\d+)>$`)
	slugDrop       = regexp.MustCompile(`[^a-z0-9_]+`)
)

// NormalizeSourceRef turns free-text handles (Discord mentions, ids with
// stray whitespace) into the canonical form stored on the analyst.
func NormalizeSourceRef(raw string) string {
	s := strings.TrimSpace(raw)
	if m := discordMention.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// AnalystIDFromName builds the analyst_<slug> identifier used by the dashboard.
func AnalystIDFromName(name string) AnalystID {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "_")
	slug = slugDrop.ReplaceAllString(slug, "")
	if slug == "" {
		slug = "unnamed"
	}
	return AnalystID("analyst_" + slug)
}
