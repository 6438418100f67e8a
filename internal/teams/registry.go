package teams

import (
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

// Team holds the credentials for one upstream account.
type Team struct {
	Name      string `mapstructure:"name" json:"name"`
	AccountID string `mapstructure:"account_id" json:"account_id"`
	Token     string `mapstructure:"token" json:"-"`
}

// Usable reports whether the team carries the credentials required to call
// the upstream API.
func (t Team) Usable() bool {
	return t.AccountID != "" && t.Token != ""
}

var indexPattern = regexp.MustCompile(`(?i)^team\s*(\d+)$`)

// Registry is a process-wide, hot-reloadable view of the configured teams.
// The list is held as an immutable snapshot behind an atomic pointer, so
// readers always observe a consistent, fully-formed set while Reload swaps
// in new credentials.
type Registry struct {
	snapshot atomic.Pointer[[]Team]
}

// NewRegistry builds a registry over the initial team list.
func NewRegistry(list []Team) *Registry {
	r := &Registry{}
	r.Reload(list)
	return r
}

// Reload replaces the snapshot. The supplied slice must not be mutated by
// the caller afterwards.
func (r *Registry) Reload(list []Team) {
	snap := make([]Team, len(list))
	copy(snap, list)
	r.snapshot.Store(&snap)
}

// All returns the current snapshot. Callers must treat it as read-only.
func (r *Registry) All() []Team {
	return *r.snapshot.Load()
}

// Len returns the number of configured teams.
func (r *Registry) Len() int {
	return len(r.All())
}

// Resolve finds a team by display name. Matching is exact first, then
// case-insensitive with surrounding whitespace ignored, then positional
// ("Team1"/"team 2" map to the first and second configured teams).
func (r *Registry) Resolve(name string) (Team, bool) {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return Team{}, false
	}

	snap := r.All()
	for _, t := range snap {
		if t.Name == normalized {
			return t, true
		}
	}

	lowered := strings.ToLower(normalized)
	for _, t := range snap {
		if strings.ToLower(strings.TrimSpace(t.Name)) == lowered {
			return t, true
		}
	}

	if m := indexPattern.FindStringSubmatch(normalized); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err == nil && idx >= 1 && idx <= len(snap) {
			return snap[idx-1], true
		}
	}

	return Team{}, false
}

// ResolveAccount finds a team by upstream account id.
func (r *Registry) ResolveAccount(accountID string) (Team, bool) {
	if accountID == "" {
		return Team{}, false
	}
	for _, t := range r.All() {
		if t.AccountID == accountID {
			return t, true
		}
	}
	return Team{}, false
}
