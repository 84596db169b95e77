// Package integrity encodes the uniqueness and cascade-dependency rules
// that guard structural mutations. Blocking versus cascading behavior is
// declared in one edge table so it is auditable in one place.
package integrity

import (
	"fmt"
	"strings"

	"github.com/clinforge/relay/backend/internal/entities"
)

// DependencyEdge is a directed parent→child relation. A blocking edge
// forbids deleting the parent while live children exist; a cascade edge
// marks children that are deleted together with their parent.
type DependencyEdge struct {
	Parent     entities.Kind
	Child      entities.Kind
	ForeignKey string
	Blocking   bool
}

// DefaultEdges returns the edge table in evaluation order. Delete checks
// walk it top to bottom, so the first blocking edge with live children
// decides the reported conflict.
func DefaultEdges() []DependencyEdge {
	return []DependencyEdge{
		{Parent: entities.KindStudy, Child: entities.KindDatabaseRelease, ForeignKey: "study_id", Blocking: true},
		{Parent: entities.KindDatabaseRelease, Child: entities.KindReportingEffort, ForeignKey: "database_release_id", Blocking: true},
		{Parent: entities.KindReportingEffort, Child: entities.KindReportingEffortItem, ForeignKey: "reporting_effort_id", Blocking: true},
		{Parent: entities.KindPackage, Child: entities.KindPackageItem, ForeignKey: "package_id", Blocking: true},
		{Parent: entities.KindTrackerTag, Child: entities.KindTagAssignment, ForeignKey: "tag_id", Blocking: true},
		{Parent: entities.KindReportingEffortItem, Child: entities.KindTracker, ForeignKey: "reporting_effort_item_id", Blocking: false},
		{Parent: entities.KindTracker, Child: entities.KindTrackerComment, ForeignKey: "tracker_id", Blocking: false},
		{Parent: entities.KindTracker, Child: entities.KindTagAssignment, ForeignKey: "tracker_id", Blocking: false},
		{Parent: entities.KindTrackerComment, Child: entities.KindTrackerComment, ForeignKey: "parent_comment_id", Blocking: false},
	}
}

// KeyColumn is one column of a uniqueness key. Normalized columns compare
// case-insensitively with collapsed whitespace; the rest compare exactly.
type KeyColumn struct {
	Name       string
	Normalized bool
}

// UniquenessKey declares a (kind, column-tuple) that must be unique among
// live rows. Values extracts the candidate's key values in column order.
type UniquenessKey struct {
	Kind    entities.Kind
	Columns []KeyColumn
	Values  func(entities.Entity) []any
}

// DefaultKeys returns the uniqueness rules for every kind that has one.
func DefaultKeys() []UniquenessKey {
	return []UniquenessKey{
		{
			Kind:    entities.KindStudy,
			Columns: []KeyColumn{{Name: "study_label", Normalized: true}},
			Values: func(e entities.Entity) []any {
				s := e.(*entities.Study)
				return []any{s.StudyLabel}
			},
		},
		{
			Kind: entities.KindDatabaseRelease,
			Columns: []KeyColumn{
				{Name: "study_id"},
				{Name: "label", Normalized: true},
			},
			Values: func(e entities.Entity) []any {
				r := e.(*entities.DatabaseRelease)
				return []any{r.StudyID, r.Label}
			},
		},
		{
			Kind: entities.KindReportingEffort,
			Columns: []KeyColumn{
				{Name: "database_release_id"},
				{Name: "label", Normalized: true},
			},
			Values: func(e entities.Entity) []any {
				re := e.(*entities.ReportingEffort)
				return []any{re.DatabaseReleaseID, re.Label}
			},
		},
		{
			Kind:    entities.KindPackage,
			Columns: []KeyColumn{{Name: "name", Normalized: true}},
			Values: func(e entities.Entity) []any {
				p := e.(*entities.Package)
				return []any{p.Name}
			},
		},
		{
			Kind: entities.KindPackageItem,
			Columns: []KeyColumn{
				{Name: "package_id"},
				{Name: "item_type"},
				{Name: "subtype"},
				{Name: "code"},
			},
			Values: func(e entities.Entity) []any {
				i := e.(*entities.PackageItem)
				return []any{i.PackageID, i.ItemType, i.Subtype, i.Code}
			},
		},
		{
			Kind:    entities.KindTrackerTag,
			Columns: []KeyColumn{{Name: "name", Normalized: true}},
			Values: func(e entities.Entity) []any {
				t := e.(*entities.TrackerTag)
				return []any{t.Name}
			},
		},
		{
			// Exactly zero or one tracker per reporting effort item.
			Kind:    entities.KindTracker,
			Columns: []KeyColumn{{Name: "reporting_effort_item_id"}},
			Values: func(e entities.Entity) []any {
				t := e.(*entities.Tracker)
				return []any{t.ReportingEffortItemID}
			},
		},
		{
			Kind: entities.KindTagAssignment,
			Columns: []KeyColumn{
				{Name: "tracker_id"},
				{Name: "tag_id"},
			},
			Values: func(e entities.Entity) []any {
				a := e.(*entities.TagAssignment)
				return []any{a.TrackerID, a.TagID}
			},
		},
	}
}

// NormalizeText lowercases and collapses whitespace for free-text label
// comparison.
func NormalizeText(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

func compareForm(column KeyColumn, value any) string {
	text := fmt.Sprint(value)
	if column.Normalized {
		return NormalizeText(text)
	}
	return text
}
