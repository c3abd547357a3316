package match

import (
	"sync"

	"github.com/fiffu/regwatch/lib/models"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Matcher decides which subscriptions care about a given change. All clauses
// of a subscription's filters must accept the change; a subscription with no
// clauses accepts everything.
type Matcher struct {
	log *zap.Logger

	mu       sync.Mutex
	patterns map[string]glob.Glob // nil entry means the pattern failed to compile
}

func NewMatcher(log *zap.Logger) *Matcher {
	return &Matcher{
		log:      log,
		patterns: make(map[string]glob.Glob),
	}
}

// Match filters subs down to the active subscriptions whose filters accept
// the change.
func (m *Matcher) Match(change *models.Change, subs models.Subscriptions) models.Subscriptions {
	matched := make(models.Subscriptions, 0, len(subs))
	for i := range subs {
		if !subs[i].IsActive() {
			continue
		}
		if m.MatchesFilters(change, subs[i].Filters) {
			matched = append(matched, subs[i])
		}
	}
	return matched
}

func (m *Matcher) MatchesFilters(change *models.Change, filters models.SubscriptionFilters) bool {
	if len(filters.ChangeTypes) > 0 && !containsChangeType(filters.ChangeTypes, change.ChangeType) {
		return false
	}

	if filters.ServerNamePattern != "" {
		g, ok := m.compile(filters.ServerNamePattern)
		if !ok || !g.Match(change.ServerName) {
			return false
		}
	}

	if len(filters.PackageRegistryTypes) > 0 && !matchesRegistryTypes(change, filters.PackageRegistryTypes) {
		return false
	}

	return true
}

// compile returns the cached glob for pattern, compiling on first use.
// A pattern that fails to compile is cached as nil so it warns once and
// never matches afterwards.
func (m *Matcher) compile(pattern string) (glob.Glob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, seen := m.patterns[pattern]
	if !seen {
		var err error
		g, err = glob.Compile(pattern)
		if err != nil {
			m.log.Sugar().Warnf("Ignoring invalid server name pattern %q: %v", pattern, err)
			g = nil
		}
		m.patterns[pattern] = g
	}
	return g, g != nil
}

func containsChangeType(haystack []models.ChangeType, needle models.ChangeType) bool {
	for _, ct := range haystack {
		if ct == needle {
			return true
		}
	}
	return false
}

// matchesRegistryTypes is true when the affected server publishes at least
// one package under any of the wanted registry types. Servers with no
// packages never match this clause.
func matchesRegistryTypes(change *models.Change, wanted []string) bool {
	server := change.AffectedServer()
	if server == nil {
		return false
	}
	for _, pkg := range server.Packages {
		for _, w := range wanted {
			if pkg.RegistryType == w {
				return true
			}
		}
	}
	return false
}
