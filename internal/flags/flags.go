package flags

import (
	"time"
)

// Variant is one weighted alternative assigned to enabled users.
type Variant struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Targeting holds explicit inclusion rules that override percentage rollout.
type Targeting struct {
	UserIDs    []string `json:"userIds"`
	UserGroups []string `json:"userGroups"`
}

// Metadata is descriptive only and never affects evaluation.
type Metadata struct {
	Description    string `json:"description,omitempty"`
	Owner          string `json:"owner,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	LastUpdated    string `json:"lastUpdated,omitempty"`
	LastRollback   string `json:"lastRollback,omitempty"`
	RollbackReason string `json:"rollbackReason,omitempty"`
}

// Definition is a single feature flag.
type Definition struct {
	Enabled           bool      `json:"enabled"`
	RolloutPercentage int       `json:"rolloutPercentage"`
	Targeting         Targeting `json:"targeting"`
	Variants          []Variant `json:"variants"`
	Metadata          Metadata  `json:"metadata"`
}

// Set is the complete, versioned snapshot of all flag definitions.
type Set struct {
	Version     string                `json:"version"`
	LastUpdated string                `json:"lastUpdated"`
	Flags       map[string]Definition `json:"flags"`
}

// Context carries per-request user details for evaluation.
type Context struct {
	UserID         string         `json:"userId"`
	UserGroups     []string       `json:"userGroups,omitempty"`
	UserAttributes map[string]any `json:"userAttributes,omitempty"`
}

// DefaultVariant is the variant guaranteed to exist on every written flag.
const DefaultVariant = "control"

const defaultOwner = "unknown"

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	out := d
	out.Targeting.UserIDs = append([]string(nil), d.Targeting.UserIDs...)
	out.Targeting.UserGroups = append([]string(nil), d.Targeting.UserGroups...)
	out.Variants = append([]Variant(nil), d.Variants...)
	return out
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := s
	out.Flags = make(map[string]Definition, len(s.Flags))
	for name, def := range s.Flags {
		out.Flags[name] = def.Clone()
	}
	return out
}

// Timestamp formats t the way snapshots and metadata record times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// DefaultSet is the built-in fallback installed when the very first refresh
// fails, so the process never serves with zero flags.
func DefaultSet(now time.Time) Set {
	created := Timestamp(now)
	return Set{
		Version:     "1.0.0",
		LastUpdated: created,
		Flags: map[string]Definition{
			"new-ui-design": {
				Enabled:           true,
				RolloutPercentage: 100,
				Targeting: Targeting{
					UserIDs:    []string{},
					UserGroups: []string{"beta-users"},
				},
				Variants: []Variant{
					{Name: "modern", Weight: 100},
				},
				Metadata: Metadata{
					Description: "New UI Design Feature",
					Owner:       "frontend-team",
					CreatedAt:   created,
				},
			},
		},
	}
}
