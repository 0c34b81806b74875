package models

// Ruleset selects the unit assignment strategy
type Ruleset string

const (
	RulesetCrowdCoding Ruleset = "crowdcoding"
	RulesetFixedSet    Ruleset = "fixedset"
)

// Rules configure how units are distributed over coders and which
// quality-control measures are in place. Embedded in each jobset.
type Rules struct {
	Ruleset          Ruleset  `json:"ruleset"`
	CanSeekBackwards *bool    `json:"can_seek_backwards,omitempty"`
	CanSeekForwards  *bool    `json:"can_seek_forwards,omitempty"`
	UnitsPerCoder    int      `json:"units_per_coder,omitempty"`
	Randomize        bool     `json:"randomize,omitempty"`
	ShowDamage       bool     `json:"show_damage,omitempty"`
	HealDamage       bool     `json:"heal_damage,omitempty"`
	MaxDamage        *float64 `json:"max_damage,omitempty"`
}

// SeekBackwards reports whether coders may revisit earlier units (default true)
func (r Rules) SeekBackwards() bool {
	if r.CanSeekBackwards != nil {
		return *r.CanSeekBackwards
	}
	return true
}

// SeekForwards reports whether coders may skip ahead (default false)
func (r Rules) SeekForwards() bool {
	if r.CanSeekForwards != nil {
		return *r.CanSeekForwards
	}
	return false
}

// GameOver reports whether accumulated damage disqualifies the coder
func (r Rules) GameOver(totalDamage float64) bool {
	return r.MaxDamage != nil && totalDamage > *r.MaxDamage
}
