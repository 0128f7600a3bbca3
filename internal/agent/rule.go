package agent

import (
	"strings"
	"time"
)

// Reason codes for rejected user rules.
const (
	ReasonMissingCategory = "missing_category"
	ReasonBadDate         = "bad_date"
)

// vetRuleValidation applies the checks the model cannot be trusted with:
// a valid rule must carry a category, and any date bounds must be real
// ISO dates in the right order.
func vetRuleValidation(v *RuleValidation) {
	if !v.Valid {
		return
	}
	if strings.TrimSpace(v.Category) == "" {
		v.Valid = false
		v.Reason = ReasonMissingCategory
		return
	}
	var from, to time.Time
	if v.DateFrom != "" {
		t, err := time.Parse("2006-01-02", v.DateFrom)
		if err != nil {
			v.Valid = false
			v.Reason = ReasonBadDate
			return
		}
		from = t
	}
	if v.DateTo != "" {
		t, err := time.Parse("2006-01-02", v.DateTo)
		if err != nil {
			v.Valid = false
			v.Reason = ReasonBadDate
			return
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		v.Valid = false
		v.Reason = ReasonBadDate
	}
}
