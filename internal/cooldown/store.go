// Package cooldown tracks per-video extraction attempts and the process-wide
// block flag shared by every acquisition.
package cooldown

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the attempt-limiting policy.
type Config struct {
	// AttemptCeiling is the number of attempts allowed per video per window.
	AttemptCeiling int
	// Window is the length of the attempt window, starting at the first attempt.
	Window time.Duration
	// VideoCooldown is how long a video is suppressed after a rate-limit signal.
	VideoCooldown time.Duration
}

// DefaultConfig returns the default attempt policy.
func DefaultConfig() Config {
	return Config{
		AttemptCeiling: 6,
		Window:         10 * time.Minute,
		VideoCooldown:  5 * time.Minute,
	}
}

// State is the rate-limit state of one video.
type State struct {
	AttemptCount    int        `json:"attempt_count"`
	WindowExpiresAt time.Time  `json:"window_expires_at"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
}

// Reason explains why a reservation was refused.
type Reason string

const (
	ReasonCeiling  Reason = "attempt_ceiling"
	ReasonCooldown Reason = "video_cooldown"
)

// LimitError is returned when a video may not be attempted right now.
type LimitError struct {
	VideoID    string
	Reason     Reason
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("video %s is rate limited (%s), retry after %s", e.VideoID, e.Reason, e.RetryAfter.Round(time.Second))
}

// ReserveOptions modifies a reservation.
type ReserveOptions struct {
	// IgnoreCooldown lets an unauthenticated strategy run while the video cools
	// down. The attempt ceiling still applies.
	IgnoreCooldown bool
}

// Store holds RateLimitState per video. All check-then-increment sequences
// happen under one mutex.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	entries map[string]*State
}

// NewStore creates a store with the given policy.
func NewStore(cfg Config) *Store {
	if cfg.AttemptCeiling <= 0 {
		cfg.AttemptCeiling = DefaultConfig().AttemptCeiling
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.VideoCooldown <= 0 {
		cfg.VideoCooldown = DefaultConfig().VideoCooldown
	}
	return &Store{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*State),
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Check reports whether the video has room for another attempt without
// reserving one.
func (s *Store) Check(videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(videoID, ReserveOptions{})
}

// Reserve atomically verifies the ceiling and cooldown and counts one attempt.
// It returns the attempt number within the current window.
func (s *Store) Reserve(videoID string, opts ReserveOptions) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(videoID, opts); err != nil {
		return 0, err
	}

	st := s.entryLocked(videoID)
	st.AttemptCount++
	return st.AttemptCount, nil
}

// MarkRateLimited starts the per-video cooldown.
func (s *Store) MarkRateLimited(videoID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entryLocked(videoID)
	until := s.now().Add(s.cfg.VideoCooldown)
	if st.CooldownUntil == nil || until.After(*st.CooldownUntil) {
		st.CooldownUntil = &until
	}
	return *st.CooldownUntil
}

// Snapshot returns a copy of the video's state.
func (s *Store) Snapshot(videoID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries[videoID]
	if !ok {
		return State{}
	}
	out := *st
	if st.CooldownUntil != nil {
		until := *st.CooldownUntil
		out.CooldownUntil = &until
	}
	return out
}

// Cleanup drops entries whose window and cooldown have both expired.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, st := range s.entries {
		coolingDown := st.CooldownUntil != nil && now.Before(*st.CooldownUntil)
		if !now.Before(st.WindowExpiresAt) && !coolingDown {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked videos.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) checkLocked(videoID string, opts ReserveOptions) error {
	st, ok := s.entries[videoID]
	if !ok {
		return nil
	}
	now := s.now()

	if now.Before(st.WindowExpiresAt) && st.AttemptCount >= s.cfg.AttemptCeiling {
		return &LimitError{VideoID: videoID, Reason: ReasonCeiling, RetryAfter: st.WindowExpiresAt.Sub(now)}
	}
	if !opts.IgnoreCooldown && st.CooldownUntil != nil && now.Before(*st.CooldownUntil) {
		return &LimitError{VideoID: videoID, Reason: ReasonCooldown, RetryAfter: st.CooldownUntil.Sub(now)}
	}
	return nil
}

// entryLocked returns the state for videoID, opening a fresh window when the
// previous one has expired.
func (s *Store) entryLocked(videoID string) *State {
	now := s.now()
	st, ok := s.entries[videoID]
	if !ok {
		st = &State{}
		s.entries[videoID] = st
	}
	if !now.Before(st.WindowExpiresAt) {
		st.AttemptCount = 0
		st.WindowExpiresAt = now.Add(s.cfg.Window)
	}
	return st
}
