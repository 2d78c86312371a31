package models

// RouteEntry maps a path prefix to a backend service. Entries are loaded once
// at process start and are immutable thereafter.
type RouteEntry struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Target string `json:"target"`
}

// AccessTier is the role requirement attached to a path prefix.
type AccessTier string

const (
	TierPublic        AccessTier = "public"
	TierAuthenticated AccessTier = "authenticated"
	TierTeacher       AccessTier = "teacher_or_admin"
	TierAdmin         AccessTier = "admin_only"
)

// TierRule binds a path prefix to its required access tier.
type TierRule struct {
	Prefix string
	Tier   AccessTier
}
