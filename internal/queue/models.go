package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a task. Values are the single-letter
// codes stored in the tasks table.
type Status string

const (
	StatusPending   Status = "P"
	StatusStarted   Status = "S"
	StatusCompleted Status = "C"
	StatusFailed    Status = "F"
)

var allStatuses = []Status{StatusPending, StatusStarted, StatusCompleted, StatusFailed}

var statusLabels = map[Status]string{
	StatusPending:   "pending",
	StatusStarted:   "started",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
}

// String renders the human-readable status name.
func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Terminal reports whether the status is Completed or Failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts either the stored code ("P") or the name ("pending").
func ParseStatus(value string) (Status, error) {
	trimmed := strings.TrimSpace(value)
	for _, status := range allStatuses {
		if strings.EqualFold(trimmed, string(status)) || strings.EqualFold(trimmed, statusLabels[status]) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", value)
}

// validEdges lists the forward transitions Transition accepts.
var validEdges = map[Status][]Status{
	StatusPending: {StatusStarted},
	StatusStarted: {StatusCompleted, StatusFailed},
}

func validEdge(from, to Status) bool {
	for _, next := range validEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Type identifies the unit of work a task represents.
type Type string

const (
	TypeProcessRaw         Type = "process_raw"
	TypeGenerateThumbnails Type = "generate_thumbnails"
	TypeClassifyImages     Type = "classify_images"

	classifyPrefix = "classify."
)

// classifierKinds is the canonical order of classifier child types.
var classifierKinds = []string{"color", "event", "location", "face", "style", "object"}

// ClassifyType returns the child task type for a classifier kind.
func ClassifyType(kind string) Type {
	return Type(classifyPrefix + kind)
}

// ClassifierKind returns the kind for a classify.<kind> type.
func (t Type) ClassifierKind() (string, bool) {
	kind, ok := strings.CutPrefix(string(t), classifyPrefix)
	if !ok || kind == "" {
		return "", false
	}
	return kind, true
}

// Valid reports whether t belongs to the fixed task type enumeration.
func (t Type) Valid() bool {
	switch t {
	case TypeProcessRaw, TypeGenerateThumbnails, TypeClassifyImages:
		return true
	}
	kind, ok := t.ClassifierKind()
	if !ok {
		return false
	}
	for _, known := range classifierKinds {
		if kind == known {
			return true
		}
	}
	return false
}

// AllTypes returns every task type: stages first, then classifier children in
// canonical order.
func AllTypes() []Type {
	types := []Type{TypeProcessRaw, TypeGenerateThumbnails, TypeClassifyImages}
	for _, kind := range classifierKinds {
		types = append(types, ClassifyType(kind))
	}
	return types
}

// Task is a single unit of pipeline work.
type Task struct {
	ID            string
	Type          Type
	SubjectID     string
	LibraryID     string
	Status        Status
	ParentID      string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	LastHeartbeat *time.Time
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool {
	return t.ParentID == ""
}

// Fields carries the optional column updates applied by Transition.
type Fields struct {
	// ErrorMessage is recorded when non-empty. Failures always carry one; a
	// completed parent carries one when some children failed.
	ErrorMessage string
}

// Filter narrows Find results. Zero values match everything.
type Filter struct {
	Type      Type
	Status    Status
	LibraryID string
	SubjectID string
	ParentID  string
	Limit     int
}

// FanIn summarizes the children of a parent task.
type FanIn struct {
	Total       int
	Terminal    int
	Failed      int
	FailedTypes []Type
}

// CompleteWithChildren is true when at least one child exists and every
// child is terminal.
func (f FanIn) CompleteWithChildren() bool {
	return f.Total > 0 && f.Terminal == f.Total
}

// HealthSummary aggregates task counts by lifecycle bucket.
type HealthSummary struct {
	Total     int
	Pending   int
	Started   int
	Completed int
	Failed    int
}

// DatabaseHealth reports diagnostics about the task database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	IntegrityCheck   bool
	TotalTasks       int
	Error            string
}
