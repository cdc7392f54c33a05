package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Upsert is the write payload accepted for a flag. Required fields are
// pointers so a missing field is distinguishable from its zero value.
type Upsert struct {
	Enabled           *bool      `json:"enabled"`
	RolloutPercentage *int       `json:"rolloutPercentage"`
	Targeting         *Targeting `json:"targeting"`
	Variants          []Variant  `json:"variants"`
	Metadata          *Metadata  `json:"metadata"`
}

// Validate checks an upsert payload and produces a complete definition with
// defaults applied: empty targeting sets, a single "control" variant at
// weight 100, and owner "unknown".
func Validate(req Upsert, now time.Time) (Definition, error) {
	if req.Enabled == nil {
		return Definition{}, validationf("required field 'enabled' is missing")
	}
	if req.RolloutPercentage == nil {
		return Definition{}, validationf("required field 'rolloutPercentage' is missing")
	}
	if *req.RolloutPercentage < 0 || *req.RolloutPercentage > 100 {
		return Definition{}, validationf("rollout percentage must be between 0 and 100")
	}

	for i, variant := range req.Variants {
		if variant.Name == "" {
			return Definition{}, validationf("variant %d: name is required", i)
		}
		if variant.Weight < 0 {
			return Definition{}, validationf("variant %q: weight cannot be negative", variant.Name)
		}
	}

	def := Definition{
		Enabled:           *req.Enabled,
		RolloutPercentage: *req.RolloutPercentage,
		Targeting:         Targeting{UserIDs: []string{}, UserGroups: []string{}},
		Variants:          []Variant{{Name: DefaultVariant, Weight: 100}},
	}
	if req.Targeting != nil {
		if req.Targeting.UserIDs != nil {
			def.Targeting.UserIDs = append([]string(nil), req.Targeting.UserIDs...)
		}
		if req.Targeting.UserGroups != nil {
			def.Targeting.UserGroups = append([]string(nil), req.Targeting.UserGroups...)
		}
	}
	if len(req.Variants) > 0 {
		def.Variants = append([]Variant(nil), req.Variants...)
	}
	if req.Metadata != nil {
		def.Metadata = *req.Metadata
	}
	if def.Metadata.Owner == "" {
		def.Metadata.Owner = defaultOwner
	}
	if def.Metadata.CreatedAt == "" {
		def.Metadata.CreatedAt = Timestamp(now)
	}

	return def, nil
}

// AsUpsert converts an existing definition into a write payload, used when a
// mutation changes one field and carries the rest through.
func (d Definition) AsUpsert() Upsert {
	clone := d.Clone()
	return Upsert{
		Enabled:           &clone.Enabled,
		RolloutPercentage: &clone.RolloutPercentage,
		Targeting:         &clone.Targeting,
		Variants:          clone.Variants,
		Metadata:          &clone.Metadata,
	}
}

// ParseSet decodes raw snapshot content fetched from the remote store. A
// payload without a flags mapping is rejected.
func ParseSet(content []byte) (Set, error) {
	if len(content) == 0 {
		return Set{}, errors.New("snapshot content is empty")
	}

	var set Set
	if err := json.Unmarshal(content, &set); err != nil {
		return Set{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if set.Flags == nil {
		return Set{}, errors.New("snapshot has no flags mapping")
	}
	return set, nil
}
