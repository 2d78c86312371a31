package gateway

import (
	"sort"
	"strings"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
)

// RouteTable holds the compiled, immutable routing and authorization rules.
// Both lookups are longest-prefix-first so entry order in configuration never
// changes behaviour. Hot reload replaces the whole table (see Proxy.Reload).
type RouteTable struct {
	routes []models.RouteEntry
	tiers  []models.TierRule
}

// BuildRouteTable compiles the configured route rules and tier prefixes.
func BuildRouteTable(cfg config.GatewayConfig) *RouteTable {
	routes := make([]models.RouteEntry, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, models.RouteEntry{Name: r.Name, Prefix: r.Prefix, Target: r.Target})
	}

	var tiers []models.TierRule
	for _, p := range cfg.PublicPrefixes {
		tiers = append(tiers, models.TierRule{Prefix: p, Tier: models.TierPublic})
	}
	for _, p := range cfg.TeacherPrefixes {
		tiers = append(tiers, models.TierRule{Prefix: p, Tier: models.TierTeacher})
	}
	for _, p := range cfg.AdminPrefixes {
		tiers = append(tiers, models.TierRule{Prefix: p, Tier: models.TierAdmin})
	}

	return NewRouteTable(routes, tiers)
}

// NewRouteTable copies and sorts the given entries longest-prefix-first.
func NewRouteTable(routes []models.RouteEntry, tiers []models.TierRule) *RouteTable {
	t := &RouteTable{
		routes: append([]models.RouteEntry(nil), routes...),
		tiers:  append([]models.TierRule(nil), tiers...),
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})
	sort.SliceStable(t.tiers, func(i, j int) bool {
		return len(t.tiers[i].Prefix) > len(t.tiers[j].Prefix)
	})
	return t
}

// Resolve returns the backend owning the longest prefix of path.
func (t *RouteTable) Resolve(path string) (models.RouteEntry, bool) {
	for _, r := range t.routes {
		if matchesPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return models.RouteEntry{}, false
}

// RequiredTier returns the access tier for path. Paths with no explicit rule
// require an authenticated caller.
func (t *RouteTable) RequiredTier(path string) models.AccessTier {
	for _, rule := range t.tiers {
		if matchesPrefix(path, rule.Prefix) {
			return rule.Tier
		}
	}
	return models.TierAuthenticated
}

// Routes returns a copy of the route entries, e.g. for health polling.
func (t *RouteTable) Routes() []models.RouteEntry {
	return append([]models.RouteEntry(nil), t.routes...)
}

// matchesPrefix is a path-segment-aware prefix match: /api/v1/users matches
// /api/v1/users and /api/v1/users/42 but not /api/v1/users2.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// TierAllows reports whether the identity satisfies the tier. A nil identity
// is an anonymous caller.
func TierAllows(tier models.AccessTier, identity *models.Identity) bool {
	switch tier {
	case models.TierPublic:
		return true
	case models.TierAuthenticated:
		return identity != nil
	case models.TierTeacher:
		return identity != nil && (identity.Role == models.RoleTeacher || identity.Role == models.RoleAdmin)
	case models.TierAdmin:
		return identity != nil && identity.Role == models.RoleAdmin
	}
	return false
}
