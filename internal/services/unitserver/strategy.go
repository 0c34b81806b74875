package unitserver

import (
	"errors"
	"math/rand"

	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// strategy decides which unit a coder gets at a given ordinal, beyond the
// precedence rules shared by all rulesets (in-flight override, bounds check,
// fixed-index slots).
type strategy interface {
	// nTotal is the number of units this coder can code in the jobset
	nTotal(tx interfaces.EngineTx, jobset *models.JobSet) (int, error)
	// pickUnit selects the unit for a fresh serve at the given ordinal;
	// (nil, nil) means no unit is available there
	pickUnit(tx interfaces.EngineTx, jobset *models.JobSet, coder *models.User, index int) (*models.Unit, error)
	// allowsSeekForward reports whether coders may skip ahead at all
	allowsSeekForward() bool
}

func strategyFor(rules models.Rules) strategy {
	if rules.Ruleset == models.RulesetCrowdCoding {
		return crowdCoding{}
	}
	return fixedSet{}
}

// fixedSet serves every coder the same linear sequence: fixed-index units at
// their pinned ordinals, the remaining units in upload order in between.
// With randomize, the in-between part is permuted per coder, seeded by the
// coder id so the private order is stable across sessions.
type fixedSet struct{}

func (fixedSet) nTotal(tx interfaces.EngineTx, jobset *models.JobSet) (int, error) {
	return tx.CountJobSetUnits(jobset.ID)
}

func (fixedSet) pickUnit(tx interfaces.EngineTx, jobset *models.JobSet, coder *models.User, index int) (*models.Unit, error) {
	middle, err := tx.ListMiddleUnitIDs(jobset.ID)
	if err != nil {
		return nil, err
	}
	nPre, err := tx.CountFixedBefore(jobset.ID)
	if err != nil {
		return nil, err
	}

	ordinal := index - nPre
	if ordinal < 0 || ordinal >= len(middle) {
		return nil, nil
	}
	if jobset.Rules.Randomize {
		ordinal = coderPermutation(coder.ID, len(middle))[ordinal]
	}
	return tx.GetUnit(middle[ordinal])
}

func (fixedSet) allowsSeekForward() bool { return true }

// crowdCoding pushes the whole crowd through the work as fast as possible:
// each fresh serve picks the unblocked unit with the fewest annotations that
// this coder has not touched yet. Forward seeking is meaningless here since
// the next unit depends on what everyone else has coded.
type crowdCoding struct{}

func (crowdCoding) nTotal(tx interfaces.EngineTx, jobset *models.JobSet) (int, error) {
	n, err := tx.CountActiveJobSetUnits(jobset.ID)
	if err != nil {
		return 0, err
	}
	if limit := jobset.Rules.UnitsPerCoder; limit > 0 && limit < n {
		return limit, nil
	}
	return n, nil
}

func (crowdCoding) pickUnit(tx interfaces.EngineTx, jobset *models.JobSet, coder *models.User, index int) (*models.Unit, error) {
	unit, err := tx.LeastCodedUnit(jobset.ID, coder.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return unit, err
}

func (crowdCoding) allowsSeekForward() bool { return false }

// coderPermutation returns a deterministic permutation of n indices seeded by
// the coder id
func coderPermutation(coderID int64, n int) []int {
	return rand.New(rand.NewSource(coderID)).Perm(n)
}
