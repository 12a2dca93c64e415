// Package profile implements the rate-limit-driven credential rotator
// (component H, §4.8): round-robin Active/Available/RateLimited profiles
// with cooldowns, anti-flap, and an Exhausted/Parked path with scheduled
// retry.
package profile

import (
	"sync"
	"time"
)

// Status is a profile's current membership in the rotation.
type Status int

const (
	Active Status = iota
	Available
	RateLimited
)

// Profile is a registered credential set.
type Profile struct {
	Name          string
	Credentials   map[string]string
	Status        Status
	CooldownUntil time.Time
}

// Config is the rotation policy.
type Config struct {
	RotateOnRateLimit  bool
	CooldownSecs       int64
	MaxSwitchesPerHour int
}

// DefaultConfig matches the teacher-ported defaults (cooldown_secs=300,
// max_switches_per_hour=20, rotate_on_rate_limit=true).
func DefaultConfig() Config {
	return Config{RotateOnRateLimit: true, CooldownSecs: 300, MaxSwitchesPerHour: 20}
}

// Entry is a registration request item.
type Entry struct {
	Name        string
	Credentials map[string]string
}

// Info is a serializable snapshot of one profile's state.
type Info struct {
	Name                 string
	Status               string
	CooldownRemainingSecs *int64
}

// Outcome enumerates try_auto_rotate's three results (§4.8).
type Outcome int

const (
	Skipped Outcome = iota
	Switched
	Exhausted
)

// SwitchRequest is returned on a Switched outcome.
type SwitchRequest struct {
	Profile     string
	Credentials map[string]string
	Force       bool
}

// RotateResult is the full return value of TryAutoRotate.
type RotateResult struct {
	Outcome    Outcome
	Switch     *SwitchRequest
	RetryAfter time.Duration // meaningful only when Outcome == Exhausted
}

// State is the shared profile rotator. At most one profile has Status
// Active at any time (I4).
type State struct {
	mu            sync.RWMutex
	profiles      []Profile
	config        Config
	switchHistory []time.Time

	retryPending bool // dedup flag: only one scheduled retry in flight at a time
}

// New creates an empty rotator with default config.
func New() *State {
	return &State{config: DefaultConfig()}
}

// Register replaces all profiles; the first entry becomes Active.
func (s *State) Register(entries []Entry, cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make([]Profile, len(entries))
	for i, e := range entries {
		status := Available
		if i == 0 {
			status = Active
		}
		s.profiles[i] = Profile{Name: e.Name, Credentials: e.Credentials, Status: status}
	}
	if cfg != nil {
		s.config = *cfg
	}
}

// List returns a serializable snapshot of all profiles.
func (s *State) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]Info, len(s.profiles))
	for i, p := range s.profiles {
		info := Info{Name: p.Name}
		switch p.Status {
		case Active:
			info.Status = "active"
		case Available:
			info.Status = "available"
		case RateLimited:
			info.Status = "rate_limited"
			remaining := int64(p.CooldownUntil.Sub(now) / time.Second)
			if remaining < 0 {
				remaining = 0
			}
			info.CooldownRemainingSecs = &remaining
		}
		out[i] = info
	}
	return out
}

// Config returns the current rotation policy.
func (s *State) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// ActiveName returns the name of the currently Active profile, if any.
func (s *State) ActiveName() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Status == Active {
			return p.Name, true
		}
	}
	return "", false
}

// HasProfiles reports whether any profiles are registered.
func (s *State) HasProfiles() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles) > 0
}

// ResolveCredentials looks up a named profile's credentials.
func (s *State) ResolveCredentials(name string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Name == name {
			return p.Credentials, true
		}
	}
	return nil, false
}

// SetActive marks name Active after a successful switch, demoting any
// previously Active profile to Available. Preserves I4.
func (s *State) SetActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, p := range s.profiles {
		if p.Name == name {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for i := range s.profiles {
		if s.profiles[i].Name == name {
			s.profiles[i].Status = Active
		} else if s.profiles[i].Status == Active {
			s.profiles[i].Status = Available
		}
	}
	return true
}

// TryAutoRotate is the core rotation algorithm (§4.8).
func (s *State) TryAutoRotate() RotateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.RotateOnRateLimit {
		return RotateResult{Outcome: Skipped}
	}
	if len(s.profiles) < 2 {
		return RotateResult{Outcome: Skipped}
	}

	now := time.Now()
	oneHourAgo := now.Add(-time.Hour)
	i := 0
	for i < len(s.switchHistory) && s.switchHistory[i].Before(oneHourAgo) {
		i++
	}
	s.switchHistory = s.switchHistory[i:]
	if len(s.switchHistory) >= s.config.MaxSwitchesPerHour {
		return RotateResult{Outcome: Skipped}
	}

	cooldown := time.Duration(s.config.CooldownSecs) * time.Second

	activeIdx := -1
	for i, p := range s.profiles {
		if p.Status == Active {
			activeIdx = i
			break
		}
	}
	if activeIdx >= 0 {
		s.profiles[activeIdx].Status = RateLimited
		s.profiles[activeIdx].CooldownUntil = now.Add(cooldown)
	}

	// Promote expired cooldowns back to Available.
	for i := range s.profiles {
		if s.profiles[i].Status == RateLimited && !s.profiles[i].CooldownUntil.After(now) {
			s.profiles[i].Status = Available
		}
	}

	start := 0
	if activeIdx >= 0 {
		start = activeIdx + 1
	}
	n := len(s.profiles)
	nextIdx := -1
	for off := 0; off < n; off++ {
		idx := (start + off) % n
		if s.profiles[idx].Status == Available {
			nextIdx = idx
			break
		}
	}

	if nextIdx < 0 {
		retryAfter := s.minCooldownRemaining(now)
		return RotateResult{Outcome: Exhausted, RetryAfter: retryAfter}
	}

	creds := s.profiles[nextIdx].Credentials
	name := s.profiles[nextIdx].Name
	s.switchHistory = append(s.switchHistory, now)

	return RotateResult{
		Outcome: Switched,
		Switch:  &SwitchRequest{Profile: name, Credentials: creds, Force: true},
	}
}

// minCooldownRemaining returns the smallest remaining cooldown across all
// rate-limited profiles, used as Exhausted.RetryAfter.
func (s *State) minCooldownRemaining(now time.Time) time.Duration {
	var min time.Duration = -1
	for _, p := range s.profiles {
		if p.Status != RateLimited {
			continue
		}
		remaining := p.CooldownUntil.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MarkRetryPending dedups scheduled retries: returns true if it
// successfully claimed the pending flag (caller should schedule a retry),
// false if a retry was already pending.
func (s *State) MarkRetryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryPending {
		return false
	}
	s.retryPending = true
	return true
}

// ClearRetryPending releases the dedup flag once the scheduled retry has
// fired.
func (s *State) ClearRetryPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryPending = false
}
