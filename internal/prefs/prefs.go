// Package prefs holds the three UI preferences persisted independently of
// the data snapshot. Each preference falls back to its default when the
// stored value is absent or not among the allowed set.
package prefs

import (
	"context"
	"errors"
	"fmt"

	"souqpos/internal/kv"
)

var ErrUnknownPreference = errors.New("unknown preference")

type Preferences struct {
	Theme    string `json:"theme"`
	Language string `json:"language"`
	ViewMode string `json:"viewMode"`
}

type definition struct {
	key      string
	fallback string
	allowed  []string
}

var definitions = map[string]definition{
	"theme":    {key: "pos-theme", fallback: "light", allowed: []string{"light", "dark"}},
	"language": {key: "pos-language", fallback: "ar", allowed: []string{"ar", "en"}},
	"viewMode": {key: "pos-viewMode", fallback: "desktop", allowed: []string{"desktop", "mobile"}},
}

type Store struct {
	kv kv.KV
}

func New(store kv.KV) *Store {
	return &Store{kv: store}
}

// Load reads all three preferences, applying the fallback policy per key.
func (s *Store) Load(ctx context.Context) Preferences {
	return Preferences{
		Theme:    s.get(ctx, definitions["theme"]),
		Language: s.get(ctx, definitions["language"]),
		ViewMode: s.get(ctx, definitions["viewMode"]),
	}
}

// Set persists one preference. The name must be one of theme, language or
// viewMode and the value must be in that preference's allowed set.
func (s *Store) Set(ctx context.Context, name string, value string) error {
	def, ok := definitions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreference, name)
	}
	if !allowed(def, value) {
		return fmt.Errorf("%q is not a valid %s (allowed: %v)", value, name, def.allowed)
	}
	return s.kv.Set(ctx, def.key, value)
}

func (s *Store) get(ctx context.Context, def definition) string {
	stored, ok, err := s.kv.Get(ctx, def.key)
	if err != nil || !ok || !allowed(def, stored) {
		return def.fallback
	}
	return stored
}

func allowed(def definition, value string) bool {
	for _, v := range def.allowed {
		if v == value {
			return true
		}
	}
	return false
}
