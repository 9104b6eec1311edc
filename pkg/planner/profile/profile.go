// Package profile keeps long-term user preferences across conversations.
//
// A conversation's reflection step extracts a Delta from the transcript
// and folds it into the stored Profile with Merge. Merge is idempotent:
// applying the same delta twice yields the same profile as applying it
// once, so a retried reflection never duplicates preferences.
package profile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNotFound is returned by Store.Get for an unknown user.
var ErrNotFound = errors.New("profile not found")

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("profile store closed")

// Profile is a user's accumulated preferences.
type Profile struct {
	UserID              string   `json:"user_id"`
	PreferredCategories []string `json:"preferred_categories,omitempty"`
	PricePreference     string   `json:"price_preference,omitempty"`
	Interests           []string `json:"interests,omitempty"`
	SkillLevel          string   `json:"skill_level,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

// Delta is the preference information extracted from one conversation.
type Delta struct {
	PreferredCategories []string `json:"preferred_categories"`
	PricePreference     string   `json:"price_preference"`
	Interests           []string `json:"interests"`
	SkillLevel          string   `json:"skill_level"`
	Notes               string   `json:"notes"`
}

// Store persists profiles keyed by user id. Last write wins.
type Store interface {
	// Get returns ErrNotFound when the user has no profile.
	Get(ctx context.Context, userID string) (Profile, error)
	Put(ctx context.Context, p Profile) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Merge folds d into p. List fields become the order-preserving union of
// old and new values; scalar fields take the new value only when it is
// non-empty. p is not modified.
func Merge(p Profile, d Delta) Profile {
	out := p
	out.PreferredCategories = union(p.PreferredCategories, d.PreferredCategories)
	out.Interests = union(p.Interests, d.Interests)
	out.PricePreference = overwrite(p.PricePreference, d.PricePreference)
	out.SkillLevel = overwrite(p.SkillLevel, d.SkillLevel)
	out.Notes = overwrite(p.Notes, d.Notes)
	return out
}

// IsEmpty reports whether p carries no preferences.
func (p Profile) IsEmpty() bool {
	return len(p.PreferredCategories) == 0 && len(p.Interests) == 0 &&
		p.PricePreference == "" && p.SkillLevel == "" && p.Notes == ""
}

// Summary renders p as prompt context, one field per line.
func (p Profile) Summary() string {
	if p.IsEmpty() {
		return "no stored preferences"
	}
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}
	line("preferred categories", strings.Join(p.PreferredCategories, ", "))
	line("price preference", p.PricePreference)
	line("interests", strings.Join(p.Interests, ", "))
	line("skill level", p.SkillLevel)
	line("notes", p.Notes)
	return strings.TrimRight(b.String(), "\n")
}

func union(old, added []string) []string {
	if len(old) == 0 && len(added) == 0 {
		return nil
	}
	out := make([]string, 0, len(old)+len(added))
	seen := make(map[string]bool, len(old)+len(added))
	for _, v := range slices.Concat(old, added) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func overwrite(old, next string) string {
	if next = strings.TrimSpace(next); next != "" {
		return next
	}
	return old
}
