package core

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an uploaded file.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// FileUpload is the durable record for one input file. It carries the
// lifecycle status and the resume cursor (ProcessedRows, OrderStartBase).
type FileUpload struct {
	ID             string    `json:"id"`
	FilePath       string    `json:"filePath"`
	FileName       string    `json:"fileName"`
	ChecklistID    string    `json:"checklistId"`
	InspectionID   string    `json:"inspectionId"`
	UserID         string    `json:"userId"`
	Status         Status    `json:"status"`
	ProcessedRows  int64     `json:"processedRows"`
	TotalRows      int64     `json:"totalRows"`
	OrderStartBase int64     `json:"orderStartBase"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Target returns the logical destination the file's records belong to.
func (f FileUpload) Target() Target {
	return Target{ChecklistID: f.ChecklistID, InspectionID: f.InspectionID}
}

// Target identifies the parent of a set of output records. Orders are unique
// per target.
type Target struct {
	ChecklistID  string
	InspectionID string
}

// FieldType is the closed set of answer types a field can have.
type FieldType int

const (
	FieldOther FieldType = iota
	FieldSingleChoice
	FieldMultiChoice
	FieldText
	FieldDateTime
	FieldNumeric

	// NumFieldTypes is the number of field types, for lookup tables.
	NumFieldTypes
)

var fieldTypeNames = [NumFieldTypes]string{
	FieldOther:        "other",
	FieldSingleChoice: "single-choice",
	FieldMultiChoice:  "multi-choice",
	FieldText:         "text",
	FieldDateTime:     "date-time",
	FieldNumeric:      "numeric",
}

func (t FieldType) String() string {
	if t < 0 || t >= NumFieldTypes {
		return "unknown"
	}
	return fieldTypeNames[t]
}

// fieldTypeTags maps the type tags sent by the metadata source.
var fieldTypeTags = map[string]FieldType{
	"single choice responder":   FieldSingleChoice,
	"multiple choice responder": FieldMultiChoice,
	"text answer":               FieldText,
	"date & time":               FieldDateTime,
	"slider":                    FieldNumeric,
	"number":                    FieldNumeric,
}

// ParseFieldType maps a source type tag to a FieldType. Unrecognized tags
// are FieldOther.
func ParseFieldType(tag string) FieldType {
	if t, ok := fieldTypeTags[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return t
	}
	return FieldOther
}

// Condition is a score rule predicate.
type Condition int

const (
	CondUnknown Condition = iota
	CondLess
	CondLessOrEqual
	CondEqual
	CondNotEqual
	CondGreaterOrEqual
	CondGreater
	CondBlank
	CondNotBlank
	CondKeyword
)

var conditionNames = map[string]Condition{
	"less than":                CondLess,
	"less than or equal to":    CondLessOrEqual,
	"equal to":                 CondEqual,
	"not equal to":             CondNotEqual,
	"greater than or equal to": CondGreaterOrEqual,
	"greater than":             CondGreater,
	"is blank":                 CondBlank,
	"is not blank":             CondNotBlank,
	"is customized keyword":    CondKeyword,
}

// ParseCondition maps a source condition string to a Condition.
func ParseCondition(s string) Condition {
	if c, ok := conditionNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CondUnknown
}

func (c Condition) String() string {
	for name, v := range conditionNames {
		if v == c {
			return name
		}
	}
	return "unknown"
}

// Option is a named choice with its score.
type Option struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`

	// BadScore holds the score as supplied when it was not a number.
	BadScore string `json:"-"`
}

// ScoreRule contributes Score when Condition holds for the cell value and
// Threshold. Threshold is kept as supplied; numeric rules parse it when
// they are evaluated.
type ScoreRule struct {
	Condition Condition
	Raw       string // condition as supplied, for logging
	Threshold string
	Score     float64
	BadScore  string // score as supplied when it was not a number
}

// FieldDefinition is a field as supplied by the metadata source.
type FieldDefinition struct {
	ID      string
	Type    FieldType
	TypeTag string
	Title   string
	Options []Option
	Rules   []ScoreRule
}

// Answer is the scored value of one field in one row.
type Answer struct {
	FieldID  string  `json:"fieldId"`
	CommonID string  `json:"commonId"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
	RawValue string  `json:"rawValue,omitempty"`
	Value    any     `json:"value,omitempty"`
	Score    float64 `json:"score"`
}

// DateValue is the typed value of a date/time answer.
type DateValue struct {
	Date    time.Time `json:"date"`
	HasTime bool      `json:"hasTime"`
}

// OutputRecord is one ingested row. (InspectionID, ChecklistID, Order) is
// its idempotent write key.
type OutputRecord struct {
	FileID       string
	ChecklistID  string
	InspectionID string
	UserID       string
	Order        int64
	Answers      []Answer
}

// Chunk is a contiguous range of data rows handed to one worker.
type Chunk struct {
	Index          int
	From           int64 // zero-based data row index of the first row
	Count          int64
	OrderStart     int64
	CheckpointFrom int64 // key of the checkpoint this chunk advances
	Path           string
}

// Checkpoint records how many rows of a planned chunk are committed.
type Checkpoint struct {
	FileID    string
	From      int64
	Count     int64
	Committed int64
}

// Remaining returns the uncommitted row count of the checkpoint.
func (c Checkpoint) Remaining() int64 {
	if c.Committed >= c.Count {
		return 0
	}
	return c.Count - c.Committed
}

// Batch is a unit of commit: the records are written, and the file's
// processed counter and the chunk checkpoint advance, together.
type Batch struct {
	FileID         string
	CheckpointFrom int64
	Records        []OutputRecord
}

// FieldSummary describes a prepared field to downstream consumers.
type FieldSummary struct {
	ID       string `json:"id"`
	CommonID string `json:"commonId"`
	Title    string `json:"title"`
	Type     string `json:"type"`
}

// CompletionEvent is handed to the completion hook once a file completes.
type CompletionEvent struct {
	FileID        string         `json:"fileId"`
	FileName      string         `json:"fileName"`
	ChecklistID   string         `json:"checklistId"`
	InspectionID  string         `json:"inspectionId"`
	UserID        string         `json:"userId"`
	ProcessedRows int64          `json:"processedRows"`
	Fields        []FieldSummary `json:"fields"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// ChecklistResult is the per-inspection summary created when the first file
// of a target completes.
type ChecklistResult struct {
	InspectionID string         `json:"inspectionId"`
	ChecklistID  string         `json:"checklistId"`
	UserID       string         `json:"userId"`
	FileID       string         `json:"fileId"`
	RecordCount  int64          `json:"recordCount"`
	Fields       []FieldSummary `json:"fields"`
	CreatedAt    time.Time      `json:"createdAt"`
}
