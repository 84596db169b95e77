package entities

// Status enumerates the workflow states shared by the production and QC
// axes of a tracker. OnHold is reachable only on the production axis,
// Failed only on the QC axis.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on_hold"
	StatusFailed     Status = "failed"
)

// Study is the root of the submission hierarchy.
type Study struct {
	ID               uint   `gorm:"column:id;primaryKey" json:"id"`
	StudyLabel       string `gorm:"column:study_label;size:190;not null;uniqueIndex" json:"study_label"`
	Title            string `gorm:"column:title;size:500;not null;default:''" json:"title"`
	Phase            string `gorm:"column:phase;size:50;not null;default:''" json:"phase"`
	TherapeuticArea  string `gorm:"column:therapeutic_area;size:190;not null;default:''" json:"therapeutic_area"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (Study) TableName() string { return "studies" }

// DatabaseRelease is a data snapshot cut under a study.
type DatabaseRelease struct {
	ID               uint   `gorm:"column:id;primaryKey" json:"id"`
	StudyID          uint   `gorm:"column:study_id;not null;index;uniqueIndex:idx_release_study_label,priority:1" json:"study_id"`
	Label            string `gorm:"column:label;size:190;not null;uniqueIndex:idx_release_study_label,priority:2" json:"label"`
	SnapshotDate     string `gorm:"column:snapshot_date;size:50;not null;default:''" json:"snapshot_date"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (DatabaseRelease) TableName() string { return "database_releases" }

// ReportingEffort groups the deliverables produced against one release.
type ReportingEffort struct {
	ID                uint   `gorm:"column:id;primaryKey" json:"id"`
	DatabaseReleaseID uint   `gorm:"column:database_release_id;not null;index;uniqueIndex:idx_effort_release_label,priority:1" json:"database_release_id"`
	Label             string `gorm:"column:label;size:190;not null;uniqueIndex:idx_effort_release_label,priority:2" json:"label"`
	Milestone         string `gorm:"column:milestone;size:190;not null;default:''" json:"milestone"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (ReportingEffort) TableName() string { return "reporting_efforts" }

// Package is a reusable template of TLF/dataset item definitions.
type Package struct {
	ID               uint   `gorm:"column:id;primaryKey" json:"id"`
	Name             string `gorm:"column:name;size:190;not null;uniqueIndex" json:"name"`
	Description      string `gorm:"column:description;type:text;not null;default:''" json:"description"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (Package) TableName() string { return "packages" }

// PackageItem is one TLF or dataset definition within a package.
type PackageItem struct {
	ID               uint   `gorm:"column:id;primaryKey" json:"id"`
	PackageID        uint   `gorm:"column:package_id;not null;index;uniqueIndex:idx_pkg_item_key,priority:1" json:"package_id"`
	ItemType         string `gorm:"column:item_type;size:50;not null;uniqueIndex:idx_pkg_item_key,priority:2" json:"item_type"`
	Subtype          string `gorm:"column:subtype;size:50;not null;default:'';uniqueIndex:idx_pkg_item_key,priority:3" json:"subtype"`
	Code             string `gorm:"column:code;size:190;not null;uniqueIndex:idx_pkg_item_key,priority:4" json:"code"`
	Title            string `gorm:"column:title;size:500;not null;default:''" json:"title"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (PackageItem) TableName() string { return "package_items" }

// ReportingEffortItem is a trackable deliverable inside a reporting
// effort, usually instantiated from a package item.
type ReportingEffortItem struct {
	ID                uint   `gorm:"column:id;primaryKey" json:"id"`
	ReportingEffortID uint   `gorm:"column:reporting_effort_id;not null;index" json:"reporting_effort_id"`
	PackageItemID     *uint  `gorm:"column:package_item_id;index" json:"package_item_id"`
	Title             string `gorm:"column:title;size:500;not null;default:''" json:"title"`
	ItemType          string `gorm:"column:item_type;size:50;not null;default:''" json:"item_type"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (ReportingEffortItem) TableName() string { return "reporting_effort_items" }

// Tracker carries the production/QC workflow state for exactly one
// reporting effort item.
type Tracker struct {
	ID                    uint   `gorm:"column:id;primaryKey" json:"id"`
	ReportingEffortItemID uint   `gorm:"column:reporting_effort_item_id;not null;uniqueIndex" json:"reporting_effort_item_id"`
	ProductionStatus      Status `gorm:"column:production_status;size:50;not null;default:'not_started'" json:"production_status"`
	QCStatus              Status `gorm:"column:qc_status;size:50;not null;default:'not_started'" json:"qc_status"`
	InProduction          bool   `gorm:"column:in_production;not null;default:false" json:"in_production"`
	Priority              string `gorm:"column:priority;size:50;not null;default:''" json:"priority"`
	DueDateSeconds        *int64 `gorm:"column:due_date_s" json:"due_date_s"`
	AssignedProduction    string `gorm:"column:assigned_production;size:190;not null;default:''" json:"assigned_production"`
	AssignedQC            string `gorm:"column:assigned_qc;size:190;not null;default:''" json:"assigned_qc"`
	QCCompletedSeconds    *int64 `gorm:"column:qc_completed_at_s" json:"qc_completed_at_s"`
	CreatedAtSeconds      int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds      int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (Tracker) TableName() string { return "trackers" }

// TrackerComment belongs to one tracker. A comment with a non-nil parent
// is a reply; replies never nest further.
type TrackerComment struct {
	ID                uint   `gorm:"column:id;primaryKey" json:"id"`
	TrackerID         uint   `gorm:"column:tracker_id;not null;index" json:"tracker_id"`
	ParentCommentID   *uint  `gorm:"column:parent_comment_id;index" json:"parent_comment_id"`
	Author            string `gorm:"column:author;size:190;not null;default:''" json:"author"`
	Body              string `gorm:"column:body;type:text;not null" json:"body"`
	Resolved          bool   `gorm:"column:resolved;not null;default:false" json:"resolved"`
	ResolvedBy        string `gorm:"column:resolved_by;size:190;not null;default:''" json:"resolved_by"`
	ResolvedAtSeconds *int64 `gorm:"column:resolved_at_s" json:"resolved_at_s"`
	Pinned            bool   `gorm:"column:pinned;not null;default:false" json:"pinned"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (TrackerComment) TableName() string { return "tracker_comments" }

// TrackerTag is a reusable (name, color) pair.
type TrackerTag struct {
	ID               uint   `gorm:"column:id;primaryKey" json:"id"`
	Name             string `gorm:"column:name;size:190;not null;uniqueIndex" json:"name"`
	Color            string `gorm:"column:color;size:50;not null;default:''" json:"color"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;autoUpdateTime" json:"updated_at_s"`
}

func (TrackerTag) TableName() string { return "tracker_tags" }

// TagAssignment links a tag to a tracker; the pair is unique.
type TagAssignment struct {
	ID               uint  `gorm:"column:id;primaryKey" json:"id"`
	TrackerID        uint  `gorm:"column:tracker_id;not null;uniqueIndex:idx_tag_assignment,priority:1" json:"tracker_id"`
	TagID            uint  `gorm:"column:tag_id;not null;uniqueIndex:idx_tag_assignment,priority:2" json:"tag_id"`
	CreatedAtSeconds int64 `gorm:"column:created_at_s;autoCreateTime" json:"created_at_s"`
}

func (TagAssignment) TableName() string { return "tag_assignments" }

// AllModels lists every tracked model for schema migration.
func AllModels() []any {
	return []any{
		&Study{},
		&DatabaseRelease{},
		&ReportingEffort{},
		&Package{},
		&PackageItem{},
		&ReportingEffortItem{},
		&Tracker{},
		&TrackerComment{},
		&TrackerTag{},
		&TagAssignment{},
	}
}
