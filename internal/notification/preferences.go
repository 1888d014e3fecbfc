package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// PreferenceRepository is the storage surface the preference store needs.
type PreferenceRepository interface {
	GetPreferenceRow(ctx context.Context, recipientID string, category Category) (*Preference, error)
	ListPreferenceRows(ctx context.Context, recipientID string) ([]*Preference, error)
	UpsertPreferenceRow(ctx context.Context, p *Preference) error
	DeletePreferenceRows(ctx context.Context, recipientID string) error
}

// PreferenceStore serves per-(recipient, category) delivery settings. Reads
// go through an optional Redis read-through cache; cache failures fall back
// to the database and are only logged.
type PreferenceStore struct {
	repo     PreferenceRepository
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewPreferenceStore(repo PreferenceRepository, redisClient *redis.Client) *PreferenceStore {
	return &PreferenceStore{
		repo:     repo,
		redis:    redisClient,
		cacheTTL: 5 * time.Minute,
	}
}

func prefCacheKey(recipientID string, category Category) string {
	return fmt.Sprintf("notif:pref:%s:%s", recipientID, category)
}

// Get returns the effective preference for a (recipient, category),
// synthesizing the default (enabled, no DND) when no row is stored. A
// missing row is never an error.
func (s *PreferenceStore) Get(ctx context.Context, recipientID string, category Category) (*Preference, error) {
	if !category.Valid() {
		return nil, ValidationError("category", "unknown category %q", category)
	}

	if s.redis != nil {
		if data, err := s.redis.Get(ctx, prefCacheKey(recipientID, category)).Bytes(); err == nil {
			var p Preference
			if json.Unmarshal(data, &p) == nil {
				return &p, nil
			}
		} else if err != redis.Nil {
			log.Printf("Redis error reading preference cache: %v", err)
		}
	}

	p, err := s.repo.GetPreferenceRow(ctx, recipientID, category)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = DefaultPreference(recipientID, category)
	}

	s.cache(ctx, p)
	return p, nil
}

// List returns one preference per known category, synthesizing defaults for
// categories without a stored row.
func (s *PreferenceStore) List(ctx context.Context, recipientID string) ([]*Preference, error) {
	rows, err := s.repo.ListPreferenceRows(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	stored := make(map[Category]*Preference, len(rows))
	for _, p := range rows {
		stored[p.Category] = p
	}

	out := make([]*Preference, 0, len(Categories))
	for _, c := range Categories {
		if p, ok := stored[c]; ok {
			out = append(out, p)
		} else {
			out = append(out, DefaultPreference(recipientID, c))
		}
	}
	return out, nil
}

// Upsert applies a partial update on top of the stored row (or the default
// when none exists) and persists the result. Invalid DND settings are
// rejected with a validation error naming the field.
func (s *PreferenceStore) Upsert(ctx context.Context, recipientID string, category Category, update PreferenceUpdate) (*Preference, error) {
	if !category.Valid() {
		return nil, ValidationError("category", "unknown category %q", category)
	}

	p, err := s.repo.GetPreferenceRow(ctx, recipientID, category)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = DefaultPreference(recipientID, category)
	}

	if update.Enabled != nil {
		p.Enabled = *update.Enabled
	}
	if update.DNDEnabled != nil {
		p.DNDEnabled = *update.DNDEnabled
	}
	if update.DNDStartTime != nil {
		p.DNDStartTime = *update.DNDStartTime
	}
	if update.DNDEndTime != nil {
		p.DNDEndTime = *update.DNDEndTime
	}
	if update.DNDDays != nil {
		p.DNDDays = *update.DNDDays
	}

	if err := validatePreference(p); err != nil {
		return nil, err
	}

	if err := s.repo.UpsertPreferenceRow(ctx, p); err != nil {
		return nil, err
	}
	s.cache(ctx, p)
	return p, nil
}

// ResetAll deletes every stored row for the recipient and returns the
// synthesized defaults.
func (s *PreferenceStore) ResetAll(ctx context.Context, recipientID string) ([]*Preference, error) {
	if err := s.repo.DeletePreferenceRows(ctx, recipientID); err != nil {
		return nil, err
	}

	out := make([]*Preference, 0, len(Categories))
	for _, c := range Categories {
		p := DefaultPreference(recipientID, c)
		out = append(out, p)
		s.cache(ctx, p)
	}
	return out, nil
}

func (s *PreferenceStore) cache(ctx context.Context, p *Preference) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, prefCacheKey(p.RecipientID, p.Category), data, s.cacheTTL).Err(); err != nil {
		log.Printf("Redis error writing preference cache: %v", err)
	}
}

func validatePreference(p *Preference) error {
	if p.DNDStartTime != "" && !clockRe.MatchString(p.DNDStartTime) {
		return ValidationError("dnd_start_time", "%q is not a valid HH:MM time", p.DNDStartTime)
	}
	if p.DNDEndTime != "" && !clockRe.MatchString(p.DNDEndTime) {
		return ValidationError("dnd_end_time", "%q is not a valid HH:MM time", p.DNDEndTime)
	}
	if p.DNDEnabled && (p.DNDStartTime == "" || p.DNDEndTime == "") {
		return ValidationError("dnd_enabled", "dnd_start_time and dnd_end_time are required when DND is enabled")
	}
	for _, d := range p.DNDDays {
		if d < 0 || d > 6 {
			return ValidationError("dnd_days", "day index %d out of range 0-6", d)
		}
	}
	return nil
}
