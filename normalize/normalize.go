// Package normalize turns raw, inconsistently formatted roster values into
// canonical forms. Every function is pure and total: malformed input degrades
// to Absent or a trimmed uppercase echo, never to an error.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// Absent marks a value that is missing after normalization.
const Absent = ""

// DefaultDateLayout is DD/MM/YYYY.
const DefaultDateLayout = "02/01/2006"

const isoDate = "2006-01-02"

var (
	gradePattern    = regexp.MustCompile(`^GRADE\s+(\w+)`)
	divisionPattern = regexp.MustCompile(`[A-Za-z]+`)

	romanToArabic = map[string]string{
		"I": "1", "II": "2", "III": "3", "IV": "4", "V": "5",
		"VI": "6", "VII": "7", "VIII": "8", "IX": "9", "X": "10",
	}
)

func collapse(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// Name collapses whitespace runs and title-cases the result.
func Name(raw string) string {
	v := collapse(raw)
	if v == "" {
		return Absent
	}
	// a Caser holds state and must not be shared across goroutines
	return cases.Title(language.Und).String(v)
}

// School collapses whitespace and uppercases.
func School(raw string) string {
	return strings.ToUpper(collapse(raw))
}

func Status(raw string) string {
	return strings.TrimSpace(raw)
}

func StudentID(raw string) string {
	return strings.TrimSpace(raw)
}

// Grade canonicalizes grade labels: the kindergarten tokens "Jr.KG" and
// "Sr.KG", roman "GRADE <n>" labels to arabic, anything else uppercased.
func Grade(raw string) string {
	v := strings.TrimSpace(raw)
	switch v {
	case "":
		return Absent
	case "Jr.KG":
		return "JR.KG"
	case "Sr.KG":
		return "SR.KG"
	}

	upper := strings.ToUpper(v)
	if m := gradePattern.FindStringSubmatch(upper); m != nil {
		token := m[1]
		if arabic, ok := romanToArabic[token]; ok {
			token = arabic
		}
		return "GRADE " + token
	}
	return upper
}

func Gender(raw string) models.Gender {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MALE", string(models.GenderMale):
		return models.GenderMale
	case "FEMALE", string(models.GenderFemale):
		return models.GenderFemale
	default:
		return models.GenderUnknown
	}
}

// Division keeps the first run of letters, e.g. "12-A" -> "A".
func Division(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Absent
	}
	if m := divisionPattern.FindString(v); m != "" {
		return strings.ToUpper(m)
	}
	return strings.ToUpper(v)
}

// Date parses raw strictly in layout and re-emits it as YYYY-MM-DD. ok is
// false only when a non-empty value failed to parse.
func Date(raw, layout string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Absent, true
	}
	if layout == "" {
		layout = DefaultDateLayout
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return Absent, false
	}
	return t.Format(isoDate), true
}

// AcademicYear anchors the year to a May rollover.
func AcademicYear(now time.Time) string {
	if now.Month() >= time.May {
		return fmt.Sprintf("%d-%d", now.Year(), now.Year()+1)
	}
	return fmt.Sprintf("%d-%d", now.Year()-1, now.Year())
}

// Canonical is the textual form used for comparisons: trimmed, with "None",
// "NULL" and empty collapsing to Absent.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "none") || strings.EqualFold(v, "null") {
		return Absent
	}
	return v
}

// Record normalizes every field of raw. dateOK reports whether created_date
// parsed; a failure leaves CreatedDate absent.
func Record(raw models.RawRecord, academicYear, dateLayout string) (rec models.NormalizedRecord, dateOK bool) {
	rec = models.NormalizedRecord{
		SchoolName:   School(raw.SchoolName.Trimmed()),
		Status:       Status(raw.Status.Trimmed()),
		GradeName:    Grade(raw.GradeName.Trimmed()),
		StudentName:  Name(raw.StudentName.Trimmed()),
		StudentID:    StudentID(raw.StudentID.Trimmed()),
		Gender:       Gender(raw.Gender.Trimmed()),
		DivisionName: Division(raw.DivisionName.Trimmed()),
		AcademicYear: academicYear,
	}
	rec.CreatedDate, dateOK = Date(raw.CreatedDate.Trimmed(), dateLayout)
	return rec, dateOK
}
