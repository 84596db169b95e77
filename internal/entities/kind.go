package entities

import (
	"errors"
	"fmt"
)

// Kind identifies a tracked entity type. Identity of any tracked row is
// the pair (Kind, integer id).
type Kind string

const (
	KindStudy               Kind = "study"
	KindDatabaseRelease     Kind = "database_release"
	KindReportingEffort     Kind = "reporting_effort"
	KindPackage             Kind = "package"
	KindPackageItem         Kind = "package_item"
	KindReportingEffortItem Kind = "reporting_effort_item"
	KindTracker             Kind = "tracker"
	KindTrackerComment      Kind = "tracker_comment"
	KindTrackerTag          Kind = "tracker_tag"
	KindTagAssignment       Kind = "tag_assignment"
)

// ErrUnknownKind indicates a kind string with no registered model.
var ErrUnknownKind = errors.New("entities: unknown kind")

// Entity is implemented by every tracked model.
type Entity interface {
	EntityKind() Kind
	EntityID() uint
	// ApplyFields copies the provided columns onto the model. Only the
	// provided keys are touched; unknown keys are rejected.
	ApplyFields(fields map[string]any) error
}

type kindInfo struct {
	factory func() Entity
	topic   string
}

var kinds = map[Kind]kindInfo{
	KindStudy:               {func() Entity { return &Study{} }, "studies"},
	KindDatabaseRelease:     {func() Entity { return &DatabaseRelease{} }, "database_releases"},
	KindReportingEffort:     {func() Entity { return &ReportingEffort{} }, "reporting_efforts"},
	KindPackage:             {func() Entity { return &Package{} }, "packages"},
	KindPackageItem:         {func() Entity { return &PackageItem{} }, "package_items"},
	KindReportingEffortItem: {func() Entity { return &ReportingEffortItem{} }, "reporting_effort_items"},
	KindTracker:             {func() Entity { return &Tracker{} }, "trackers"},
	KindTrackerComment:      {func() Entity { return &TrackerComment{} }, "tracker_comments"},
	KindTrackerTag:          {func() Entity { return &TrackerTag{} }, "tracker_tags"},
	KindTagAssignment:       {func() Entity { return &TagAssignment{} }, "tag_assignments"},
}

// NewByKind returns an empty model for the kind.
func NewByKind(kind Kind) (Entity, error) {
	info, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return info.factory(), nil
}

// TopicFor returns the broadcast topic shared by all clients interested in
// the kind's collection.
func TopicFor(kind Kind) string {
	return kinds[kind].topic
}

// ParseKind validates a raw kind string.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if _, ok := kinds[kind]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, raw)
	}
	return kind, nil
}

// ParseCollection maps a topic/collection name (e.g. "studies") back to
// its kind.
func ParseCollection(raw string) (Kind, error) {
	for kind, info := range kinds {
		if info.topic == raw {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: collection %s", ErrUnknownKind, raw)
}

// Kinds lists every registered kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for kind := range kinds {
		out = append(out, kind)
	}
	return out
}
