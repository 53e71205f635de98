package models

import (
	"time"

	"github.com/SamuelLeutner/student-roster-sync/utils"
)

const StatusInactive = "Inactive"

type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "UNKNOWN"
)

// RawRecord is one student entry as received from the upstream feed.
type RawRecord struct {
	SchoolName   utils.FlexString `json:"school_name"`
	Status       utils.FlexString `json:"status"`
	GradeName    utils.FlexString `json:"grade_name"`
	StudentName  utils.FlexString `json:"student_name"`
	StudentID    utils.FlexString `json:"student_id"`
	Gender       utils.FlexString `json:"gender"`
	DivisionName utils.FlexString `json:"division_name"`
	CreatedDate  utils.FlexString `json:"created_date"`
}

type NormalizedRecord struct {
	SchoolName   string
	Status       string
	GradeName    string
	StudentName  string
	StudentID    string
	Gender       Gender
	DivisionName string
	AcademicYear string
	CreatedDate  string
}

type StoredRecord struct {
	NormalizedRecord
	UniqueKey      string
	LastModifiedAt time.Time
}

// FieldChange is one differing mutable field between a stored and an incoming record.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}
