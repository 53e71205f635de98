package reconcile

import (
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/normalize"
)

type Classification int

const (
	ClassNew Classification = iota
	ClassUpdated
	ClassUnchanged
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "NEW"
	case ClassUpdated:
		return "UPDATED"
	default:
		return "UNCHANGED"
	}
}

type ChangeSet struct {
	Kind    Classification
	Changes []models.FieldChange
}

func (c ChangeSet) HasChanges() bool { return len(c.Changes) > 0 }

// MutableFields are compared in this order; identity fields never are.
var MutableFields = []string{"status", "grade_name", "student_name", "gender", "division_name"}

func mutableValue(rec models.NormalizedRecord, field string) string {
	switch field {
	case "status":
		return rec.Status
	case "grade_name":
		return rec.GradeName
	case "student_name":
		return rec.StudentName
	case "gender":
		return string(rec.Gender)
	case "division_name":
		return rec.DivisionName
	default:
		return ""
	}
}

// renormalize re-applies the field rules to a stored row so values written by
// older runs compare on equal terms.
func renormalize(stored models.NormalizedRecord) models.NormalizedRecord {
	out := stored
	out.Status = normalize.Status(stored.Status)
	out.GradeName = normalize.Grade(stored.GradeName)
	out.StudentName = normalize.Name(stored.StudentName)
	if stored.Gender != "" {
		out.Gender = normalize.Gender(string(stored.Gender))
	}
	out.DivisionName = normalize.Division(stored.DivisionName)
	return out
}

// Diff classifies incoming against its stored counterpart, which is nil when
// the key has never been stored.
func Diff(incoming models.NormalizedRecord, stored *models.StoredRecord) ChangeSet {
	if stored == nil {
		return ChangeSet{Kind: ClassNew}
	}

	current := renormalize(stored.NormalizedRecord)
	var changes []models.FieldChange
	for _, field := range MutableFields {
		oldVal := normalize.Canonical(mutableValue(current, field))
		newVal := normalize.Canonical(mutableValue(incoming, field))
		if oldVal != newVal {
			changes = append(changes, models.FieldChange{
				Field:    field,
				OldValue: mutableValue(stored.NormalizedRecord, field),
				NewValue: newVal,
			})
		}
	}

	if len(changes) == 0 {
		return ChangeSet{Kind: ClassUnchanged}
	}
	return ChangeSet{Kind: ClassUpdated, Changes: changes}
}
