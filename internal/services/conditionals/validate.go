package conditionals

import (
	"encoding/json"

	"github.com/ternarybob/annotor/internal/models"
)

// The validator only interprets the parts of the codebook and unit content
// it needs to prove a conditional reachable; everything else stays opaque.

type codebook struct {
	Type      string             `json:"type"`
	Questions []codebookQuestion `json:"questions"`
	Variables []codebookVariable `json:"variables"`
}

type codebookQuestion struct {
	Name  string         `json:"name"`
	Type  string         `json:"type"`
	Codes []interface{}  `json:"codes"`
	Items []codebookItem `json:"items"`
}

type codebookItem struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

type codebookVariable struct {
	Name  string        `json:"name"`
	Codes []interface{} `json:"codes"`
}

type unitContent struct {
	Codebook   json.RawMessage `json:"codebook"`
	TextFields []textField     `json:"text_fields"`
	ImageFields []namedField   `json:"image_fields"`
	MarkdownFields []namedField `json:"markdown_fields"`
}

type textField struct {
	Name          string `json:"name"`
	Value         string `json:"value"`
	Offset        int    `json:"offset"`
	UnitStart     int    `json:"unit_start"`
	UnitEnd       int    `json:"unit_end"`
	ContextBefore string `json:"context_before"`
}

type namedField struct {
	Name string `json:"name"`
}

// InvalidConditionals reports the variables of a unit whose conditionals can
// never be satisfied given the codebook. Run at job creation so coders cannot
// get stuck at coding time. A unit-level codebook in the content overrides
// the jobset codebook.
func InvalidConditionals(unit *models.Unit, jobsetCodebook json.RawMessage) []string {
	var invalid []string
	if len(unit.Conditionals) == 0 {
		return invalid
	}

	var content unitContent
	if len(unit.Content) > 0 {
		// Malformed content leaves the position checks permissive
		_ = json.Unmarshal(unit.Content, &content)
	}

	raw := jobsetCodebook
	if len(content.Codebook) > 0 {
		raw = content.Codebook
	}
	var cb codebook
	if err := json.Unmarshal(raw, &cb); err != nil {
		for _, conditional := range unit.Conditionals {
			invalid = append(invalid, conditional.Variable)
		}
		return invalid
	}

	for _, conditional := range unit.Conditionals {
		if !positionIsPossible(conditional.Conditions, &content) {
			invalid = append(invalid, conditional.Variable)
			continue
		}
		switch cb.Type {
		case "questions":
			if !validQuestionsConditional(conditional.Variable, conditional.Conditions, cb.Questions) {
				invalid = append(invalid, conditional.Variable)
			}
		case "annotate":
			if !validAnnotateConditional(conditional.Variable, conditional.Conditions, cb.Variables) {
				invalid = append(invalid, conditional.Variable)
			}
		}
	}
	return invalid
}

func validQuestionsConditional(variable string, conditions []models.Condition, questions []codebookQuestion) bool {
	for _, question := range questions {
		codeValues := codeValues(question.Codes)
		if variable == question.Name && valueIsPossible(conditions, codeValues) {
			return true
		}
		for _, item := range question.Items {
			if variable != question.Name+"."+item.Name {
				continue
			}
			if question.Type == "inputs" {
				if inputIsPossible(conditions, item) {
					return true
				}
			} else if valueIsPossible(conditions, codeValues) {
				return true
			}
		}
	}
	return false
}

func validAnnotateConditional(variable string, conditions []models.Condition, variables []codebookVariable) bool {
	for _, v := range variables {
		if variable == v.Name && valueIsPossible(conditions, codeValues(v.Codes)) {
			return true
		}
	}
	return false
}

// codeValues normalizes codes, which are either plain strings or objects
// carrying a "code" key
func codeValues(codes []interface{}) []interface{} {
	values := make([]interface{}, 0, len(codes))
	for _, code := range codes {
		if obj, ok := code.(map[string]interface{}); ok {
			values = append(values, obj["code"])
		} else {
			values = append(values, code)
		}
	}
	return values
}

// valueIsPossible checks that every condition can match at least one of the
// codebook's declared values
func valueIsPossible(conditions []models.Condition, values []interface{}) bool {
	for _, condition := range conditions {
		hasMatch := false
		for _, value := range values {
			if valueMatches(condition, value) {
				hasMatch = true
				break
			}
		}
		if !hasMatch {
			return false
		}
	}
	return true
}

// inputIsPossible checks a condition against an input-type item: text inputs
// need string values, number inputs need numbers within the min/max range
func inputIsPossible(conditions []models.Condition, item codebookItem) bool {
	itemType := item.Type
	if itemType == "" {
		itemType = "text"
	}
	for _, condition := range conditions {
		value, isNumber := conditionNumber(condition.Value)
		switch itemType {
		case "text", "textarea", "email":
			if isNumber {
				return false
			}
		case "number":
			if !isNumber {
				return false
			}
			if item.Min != nil && value < *item.Min {
				return false
			}
			if item.Max != nil && value > *item.Max {
				return false
			}
		}
	}
	return true
}

// positionIsPossible checks that a condition's field/offset filter points at
// an existing field and, for text fields, stays within the codable span
func positionIsPossible(conditions []models.Condition, content *unitContent) bool {
	for _, condition := range conditions {
		if condition.Field == "" {
			continue
		}
		hasMatch := false

		for _, field := range content.TextFields {
			if condition.Field != field.Name {
				continue
			}
			if condition.Offset == nil {
				hasMatch = true
				continue
			}
			firstChar := field.Offset + max(field.UnitStart, len(field.ContextBefore))
			lastChar := field.Offset + len(field.Value) - field.UnitEnd - 1
			length := 0
			if condition.Length != nil {
				length = *condition.Length
			}
			if *condition.Offset >= firstChar && *condition.Offset+length <= lastChar {
				hasMatch = true
			}
		}

		for _, field := range content.ImageFields {
			if condition.Field == field.Name {
				hasMatch = true
			}
		}
		for _, field := range content.MarkdownFields {
			if condition.Field == field.Name {
				hasMatch = true
			}
		}

		if !hasMatch {
			return false
		}
	}
	return true
}
