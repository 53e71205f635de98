package reconcile

import (
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/utils"
)

// RequiredFields lists the feed fields a record must carry, in check order.
var RequiredFields = []string{
	"school_name", "status", "grade_name", "student_name",
	"student_id", "gender", "division_name",
}

func requiredValue(raw models.RawRecord, field string) utils.FlexString {
	switch field {
	case "school_name":
		return raw.SchoolName
	case "status":
		return raw.Status
	case "grade_name":
		return raw.GradeName
	case "student_name":
		return raw.StudentName
	case "student_id":
		return raw.StudentID
	case "gender":
		return raw.Gender
	case "division_name":
		return raw.DivisionName
	default:
		return utils.FlexString{}
	}
}

// Validate rejects a record whose required fields are missing or blank.
func Validate(raw models.RawRecord) error {
	for _, field := range RequiredFields {
		if requiredValue(raw, field).Trimmed() == "" {
			return &ValidationError{Field: field}
		}
	}
	return nil
}
