package conditionals

import (
	"strconv"

	"github.com/ternarybob/annotor/internal/models"
)

const (
	retryMessage = "### Please retry.\n\nThis is a **training** unit, and the answer you gave was incorrect. \nPlease have another look, and select a different answer"
	blockMessage = "### Thank you for participating.\n\nBased on your answer for this question we determined that you do not meet the qualifications for this coding job.\nWe sincerely thank you for your time."
)

// defaults controls conditional behavior when a conditional does not set its
// own action, message or damage
type defaults struct {
	successAction string
	failAction    string
	message       string
	damage        float64
}

func defaultsFor(unitType models.UnitType) defaults {
	switch unitType {
	case models.UnitTypeTrain:
		return defaults{successAction: models.ActionApplaud, failAction: models.ActionRetry, message: retryMessage}
	case models.UnitTypeScreen:
		return defaults{failAction: models.ActionBlock, message: blockMessage}
	case models.UnitTypeTest:
		return defaults{damage: 10}
	default:
		return defaults{}
	}
}

// Evaluate checks the submitted values against a unit's conditionals and
// returns the damage delta plus per-variable feedback. Pure: no I/O, no
// state. A conditional fails when any pertinent value matches none of its
// conditions, or when the variable was not coded at all on a DONE submit.
func Evaluate(unit *models.Unit, values []models.AnnotationValue,
	status models.AnnotationStatus, reportSuccess bool) (float64, map[string]models.Evaluation) {

	damage := 0.0
	evaluation := make(map[string]models.Evaluation)
	if len(unit.Conditionals) == 0 {
		return damage, evaluation
	}

	def := defaultsFor(unit.UnitType)

	for _, conditional := range unit.Conditionals {
		var pertinent []int
		for i, value := range values {
			if value.Variable == conditional.Variable {
				pertinent = append(pertinent, i)
			}
		}

		if len(pertinent) == 0 {
			// Missing answers only count against a finished unit. Every
			// condition is unmatched here, so their damage accrues on top
			// of the conditional's own.
			if status == models.StatusDone {
				missing := conditionalDamage(conditional, def)
				var submessages []string
				for _, condition := range conditional.Conditions {
					missing += condition.Damage
					if condition.Submessage != "" {
						submessages = append(submessages, condition.Submessage)
					}
				}
				damage += missing
				evaluation[conditional.Variable] = models.Evaluation{
					Action:      failAction(conditional, def),
					Message:     failMessage(conditional, def),
					Submessages: submessages,
				}
			}
			continue
		}

		valid := make(map[int]bool, len(pertinent))
		unmatchedDamage := 0.0
		var submessages []string

		for _, condition := range conditional.Conditions {
			matchedAny := false
			for _, i := range pertinent {
				if !positionMatches(condition, values[i]) {
					continue
				}
				if valueMatches(condition, values[i].Value) {
					valid[i] = true
					matchedAny = true
				}
			}
			if !matchedAny {
				unmatchedDamage += condition.Damage
				if condition.Submessage != "" {
					submessages = append(submessages, condition.Submessage)
				}
			}
		}

		var correct, incorrect []models.AnnotationValue
		for _, i := range pertinent {
			if valid[i] {
				correct = append(correct, values[i])
			} else {
				incorrect = append(incorrect, values[i])
			}
		}

		// Only invalid submitted items fail the conditional. Conditions are
		// alternatives: one unmatched among several acceptable answers is
		// fine as long as every submitted item matched some condition.
		if len(incorrect) == 0 {
			if reportSuccess {
				action := conditional.OnSuccess
				if action == "" {
					action = def.successAction
				}
				evaluation[conditional.Variable] = models.Evaluation{Action: action}
			}
			continue
		}

		damage += unmatchedDamage + conditionalDamage(conditional, def)
		evaluation[conditional.Variable] = models.Evaluation{
			Action:      failAction(conditional, def),
			Message:     failMessage(conditional, def),
			Submessages: submessages,
			Correct:     correct,
			Incorrect:   incorrect,
		}
	}

	return damage, evaluation
}

func conditionalDamage(conditional models.Conditional, def defaults) float64 {
	if conditional.Damage != nil {
		return *conditional.Damage
	}
	return def.damage
}

func failAction(conditional models.Conditional, def defaults) string {
	if conditional.OnFail != "" {
		return conditional.OnFail
	}
	return def.failAction
}

func failMessage(conditional models.Conditional, def defaults) string {
	if conditional.Message != "" {
		return conditional.Message
	}
	return def.message
}

// positionMatches applies the condition's position filter, if any
func positionMatches(condition models.Condition, value models.AnnotationValue) bool {
	if condition.Field != "" && condition.Field != value.Field {
		return false
	}
	if condition.Offset != nil && (value.Offset == nil || *condition.Offset != *value.Offset) {
		return false
	}
	if condition.Length != nil && (value.Length == nil || *condition.Length != *value.Length) {
		return false
	}
	return true
}

// valueMatches applies the condition operator. Comparison is numeric when
// the condition value is numeric, string otherwise.
func valueMatches(condition models.Condition, submitted interface{}) bool {
	op := condition.Operator
	if op == "" {
		op = "=="
	}

	// A string condition value forces string comparison even when the
	// submitted value looks numeric
	if want, ok := conditionNumber(condition.Value); ok {
		got, ok := asNumber(submitted)
		if !ok {
			// Incomparable values can only satisfy inequality
			return op == "!="
		}
		switch op {
		case "==":
			return got == want
		case "!=":
			return got != want
		case "<":
			return got < want
		case "<=":
			return got <= want
		case ">":
			return got > want
		case ">=":
			return got >= want
		}
		return false
	}

	want := asString(condition.Value)
	got := asString(submitted)
	switch op {
	case "==":
		return got == want
	case "!=":
		return got != want
	case "<":
		return got < want
	case "<=":
		return got <= want
	case ">":
		return got > want
	case ">=":
		return got >= want
	}
	return false
}

func conditionNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return ""
	}
}
