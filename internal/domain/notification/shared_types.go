// internal/domain/notification/shared_types.go
package notification

import "strings"

// Category groups notifications by the part of the college system that raised them.
type Category string

const (
	CategoryAttendance Category = "ATTENDANCE"
	CategoryAssignment Category = "ASSIGNMENT"
	CategoryGrade      Category = "GRADE"
	CategorySystem     Category = "SYSTEM" // Fallback for anything unrecognised
)

// AllCategories lists the closed set of categories in display order.
var AllCategories = []Category{
	CategoryAttendance,
	CategoryAssignment,
	CategoryGrade,
	CategorySystem,
}

// ParseCategory maps a loosely formatted category name to a Category.
// ok is false when the value is not one of the known categories.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryAttendance:
		return CategoryAttendance, true
	case CategoryAssignment:
		return CategoryAssignment, true
	case CategoryGrade:
		return CategoryGrade, true
	case CategorySystem:
		return CategorySystem, true
	}
	return CategorySystem, false
}

// Priority controls visual emphasis and relay filtering only.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL" // Fallback
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority maps a loosely formatted priority name to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityUrgent:
		return PriorityUrgent, true
	}
	return PriorityNormal, false
}

// Rank orders priorities from LOW (0) to URGENT (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}
