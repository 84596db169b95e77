package entities

import (
	"errors"
	"fmt"
)

// ErrUnknownField indicates a payload column the kind does not accept.
var ErrUnknownField = errors.New("entities: unknown field")

// ErrInvalidFieldValue indicates a payload value of the wrong type.
var ErrInvalidFieldValue = errors.New("entities: invalid field value")

func unknownField(kind Kind, key string) error {
	return fmt.Errorf("%w: %s.%s", ErrUnknownField, kind, key)
}

func asString(kind Kind, key string, value any) (string, error) {
	if value == nil {
		return "", nil
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s expects string", ErrInvalidFieldValue, kind, key)
	}
	return text, nil
}

func asBool(kind Kind, key string, value any) (bool, error) {
	flag, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s expects bool", ErrInvalidFieldValue, kind, key)
	}
	return flag, nil
}

// asUint accepts the numeric shapes JSON decoding and direct Go callers
// produce for an integer identifier.
func asUint(kind Kind, key string, value any) (uint, error) {
	switch v := value.(type) {
	case uint:
		return v, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s.%s is negative", ErrInvalidFieldValue, kind, key)
		}
		return uint(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s.%s is negative", ErrInvalidFieldValue, kind, key)
		}
		return uint(v), nil
	case float64:
		if v < 0 || v != float64(uint(v)) {
			return 0, fmt.Errorf("%w: %s.%s is not an identifier", ErrInvalidFieldValue, kind, key)
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("%w: %s.%s expects integer", ErrInvalidFieldValue, kind, key)
	}
}

func asUintPtr(kind Kind, key string, value any) (*uint, error) {
	if value == nil {
		return nil, nil
	}
	id, err := asUint(kind, key, value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func asInt64Ptr(kind Kind, key string, value any) (*int64, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case int64:
		return &v, nil
	case int:
		seconds := int64(v)
		return &seconds, nil
	case float64:
		seconds := int64(v)
		return &seconds, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s expects unix seconds", ErrInvalidFieldValue, kind, key)
	}
}

func (s *Study) EntityKind() Kind { return KindStudy }
func (s *Study) EntityID() uint   { return s.ID }

func (s *Study) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "study_label":
			s.StudyLabel, err = asString(KindStudy, key, value)
		case "title":
			s.Title, err = asString(KindStudy, key, value)
		case "phase":
			s.Phase, err = asString(KindStudy, key, value)
		case "therapeutic_area":
			s.TherapeuticArea, err = asString(KindStudy, key, value)
		default:
			err = unknownField(KindStudy, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *DatabaseRelease) EntityKind() Kind { return KindDatabaseRelease }
func (r *DatabaseRelease) EntityID() uint   { return r.ID }

func (r *DatabaseRelease) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "study_id":
			r.StudyID, err = asUint(KindDatabaseRelease, key, value)
		case "label":
			r.Label, err = asString(KindDatabaseRelease, key, value)
		case "snapshot_date":
			r.SnapshotDate, err = asString(KindDatabaseRelease, key, value)
		default:
			err = unknownField(KindDatabaseRelease, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *ReportingEffort) EntityKind() Kind { return KindReportingEffort }
func (e *ReportingEffort) EntityID() uint   { return e.ID }

func (e *ReportingEffort) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "database_release_id":
			e.DatabaseReleaseID, err = asUint(KindReportingEffort, key, value)
		case "label":
			e.Label, err = asString(KindReportingEffort, key, value)
		case "milestone":
			e.Milestone, err = asString(KindReportingEffort, key, value)
		default:
			err = unknownField(KindReportingEffort, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Package) EntityKind() Kind { return KindPackage }
func (p *Package) EntityID() uint   { return p.ID }

func (p *Package) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "name":
			p.Name, err = asString(KindPackage, key, value)
		case "description":
			p.Description, err = asString(KindPackage, key, value)
		default:
			err = unknownField(KindPackage, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *PackageItem) EntityKind() Kind { return KindPackageItem }
func (i *PackageItem) EntityID() uint   { return i.ID }

func (i *PackageItem) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "package_id":
			i.PackageID, err = asUint(KindPackageItem, key, value)
		case "item_type":
			i.ItemType, err = asString(KindPackageItem, key, value)
		case "subtype":
			i.Subtype, err = asString(KindPackageItem, key, value)
		case "code":
			i.Code, err = asString(KindPackageItem, key, value)
		case "title":
			i.Title, err = asString(KindPackageItem, key, value)
		default:
			err = unknownField(KindPackageItem, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *ReportingEffortItem) EntityKind() Kind { return KindReportingEffortItem }
func (i *ReportingEffortItem) EntityID() uint   { return i.ID }

func (i *ReportingEffortItem) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "reporting_effort_id":
			i.ReportingEffortID, err = asUint(KindReportingEffortItem, key, value)
		case "package_item_id":
			i.PackageItemID, err = asUintPtr(KindReportingEffortItem, key, value)
		case "title":
			i.Title, err = asString(KindReportingEffortItem, key, value)
		case "item_type":
			i.ItemType, err = asString(KindReportingEffortItem, key, value)
		default:
			err = unknownField(KindReportingEffortItem, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) EntityKind() Kind { return KindTracker }
func (t *Tracker) EntityID() uint   { return t.ID }

// ApplyFields covers the schedulable tracker fields. Workflow state
// (statuses, completion stamp, in_production) moves only through the
// workflow engine.
func (t *Tracker) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "reporting_effort_item_id":
			t.ReportingEffortItemID, err = asUint(KindTracker, key, value)
		case "priority":
			t.Priority, err = asString(KindTracker, key, value)
		case "due_date_s":
			t.DueDateSeconds, err = asInt64Ptr(KindTracker, key, value)
		case "assigned_production":
			t.AssignedProduction, err = asString(KindTracker, key, value)
		case "assigned_qc":
			t.AssignedQC, err = asString(KindTracker, key, value)
		default:
			err = unknownField(KindTracker, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *TrackerComment) EntityKind() Kind { return KindTrackerComment }
func (c *TrackerComment) EntityID() uint   { return c.ID }

// ApplyFields covers authorship fields; resolution and pinning move only
// through the workflow engine.
func (c *TrackerComment) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "tracker_id":
			c.TrackerID, err = asUint(KindTrackerComment, key, value)
		case "parent_comment_id":
			c.ParentCommentID, err = asUintPtr(KindTrackerComment, key, value)
		case "author":
			c.Author, err = asString(KindTrackerComment, key, value)
		case "body":
			c.Body, err = asString(KindTrackerComment, key, value)
		default:
			err = unknownField(KindTrackerComment, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *TrackerTag) EntityKind() Kind { return KindTrackerTag }
func (t *TrackerTag) EntityID() uint   { return t.ID }

func (t *TrackerTag) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "name":
			t.Name, err = asString(KindTrackerTag, key, value)
		case "color":
			t.Color, err = asString(KindTrackerTag, key, value)
		default:
			err = unknownField(KindTrackerTag, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *TagAssignment) EntityKind() Kind { return KindTagAssignment }
func (a *TagAssignment) EntityID() uint   { return a.ID }

func (a *TagAssignment) ApplyFields(fields map[string]any) error {
	for key, value := range fields {
		var err error
		switch key {
		case "tracker_id":
			a.TrackerID, err = asUint(KindTagAssignment, key, value)
		case "tag_id":
			a.TagID, err = asUint(KindTagAssignment, key, value)
		default:
			err = unknownField(KindTagAssignment, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
