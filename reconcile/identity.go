package reconcile

import (
	"strings"

	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/normalize"
)

const keyDelimiter = "_"

// Key derives the unique key SCHOOL_STUDENTID_YEAR. The grade is left out so
// a promotion within the year updates the same row.
func Key(rec models.NormalizedRecord) (string, error) {
	school := normalize.School(rec.SchoolName)
	studentID := strings.ToUpper(normalize.StudentID(rec.StudentID))
	year := strings.TrimSpace(rec.AcademicYear)

	switch {
	case school == normalize.Absent:
		return "", &IdentityError{Field: "school_name"}
	case studentID == normalize.Absent:
		return "", &IdentityError{Field: "student_id"}
	case year == normalize.Absent:
		return "", &IdentityError{Field: "academic_year"}
	}
	return strings.Join([]string{school, studentID, year}, keyDelimiter), nil
}
