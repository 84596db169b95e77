// Package mutation implements the guarded mutation pipeline: the only
// path allowed to create, update, or delete tracked entities. Every
// Execute runs its rule checks and its write in one transaction, and the
// change event is constructed only after the commit succeeds.
package mutation

import (
	"context"
	"errors"
	"time"

	"github.com/clinforge/relay/backend/internal/entities"
	"github.com/clinforge/relay/backend/internal/integrity"
	"github.com/clinforge/relay/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Op enumerates the structural mutations.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var (
	errMissingDatabase = errors.New("mutation: database handle is required")
	errUnknownOp       = errors.New("mutation: unknown operation")
	noOpLogger         = zap.NewNop()
)

// Mutation describes one requested structural change.
type Mutation struct {
	Op       Op
	Kind     entities.Kind
	EntityID uint
	Fields   map[string]any
	// AutoCreateTracker provisions the companion tracker atomically when
	// creating a reporting effort item.
	AutoCreateTracker bool
}

// Outcome carries the committed entity and the event to hand to the
// dispatcher once the boundary response is prepared.
type Outcome struct {
	Entity  entities.Entity
	Tracker *entities.Tracker
	Event   realtime.ChangeEvent
}

// PipelineConfig describes the pipeline's collaborators.
type PipelineConfig struct {
	Database *gorm.DB
	Checker  *integrity.Checker
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Pipeline wraps persistence with pre-commit rule checks and post-commit
// event construction.
type Pipeline struct {
	db      *gorm.DB
	checker *integrity.Checker
	clock   func() time.Time
	logger  *zap.Logger
}

// NewPipeline constructs the pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	checker := cfg.Checker
	if checker == nil {
		checker = integrity.NewChecker()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Pipeline{db: cfg.Database, checker: checker, clock: clock, logger: logger}, nil
}

// Execute runs one guarded mutation inside a single transaction. Rule
// violations are returned before any write; persistence failures roll the
// whole transaction back, including any auto-created tracker.
func (p *Pipeline) Execute(ctx context.Context, m Mutation) (*Outcome, error) {
	if _, err := entities.ParseKind(string(m.Kind)); err != nil {
		return nil, &MutationError{Code: CodeInvalidPayload, Kind: m.Kind, Err: err}
	}

	var outcome *Outcome
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch m.Op {
		case OpCreate:
			outcome, err = p.executeCreate(tx, m)
		case OpUpdate:
			outcome, err = p.executeUpdate(tx, m)
		case OpDelete:
			outcome, err = p.executeDelete(tx, m)
		default:
			err = &MutationError{Code: CodeInvalidPayload, Kind: m.Kind, Err: errUnknownOp}
		}
		return err
	})
	if txErr != nil {
		p.logFailure(m, txErr)
		return nil, txErr
	}
	return outcome, nil
}

func (p *Pipeline) executeCreate(tx *gorm.DB, m Mutation) (*Outcome, error) {
	model, err := entities.NewByKind(m.Kind)
	if err != nil {
		return nil, &MutationError{Code: CodeInvalidPayload, Kind: m.Kind, Err: err}
	}
	if err := model.ApplyFields(m.Fields); err != nil {
		return nil, &MutationError{Code: CodeInvalidPayload, Kind: m.Kind, Err: err}
	}

	if err := p.ensureUnique(tx, model, 0); err != nil {
		return nil, err
	}
	if err := p.checkCommentThreading(tx, model); err != nil {
		return nil, err
	}

	if err := tx.Create(model).Error; err != nil {
		return nil, p.persistError(m.Kind, model.EntityID(), err)
	}

	outcome := &Outcome{Entity: model}
	if m.AutoCreateTracker && m.Kind == entities.KindReportingEffortItem {
		item := model.(*entities.ReportingEffortItem)
		tracker := &entities.Tracker{
			ReportingEffortItemID: item.ID,
			ProductionStatus:      entities.StatusNotStarted,
			QCStatus:              entities.StatusNotStarted,
		}
		if err := tx.Create(tracker).Error; err != nil {
			return nil, p.persistError(entities.KindTracker, 0, err)
		}
		outcome.Tracker = tracker
	}

	outcome.Event = p.eventFor(model, realtime.ActionCreated)
	return outcome, nil
}

func (p *Pipeline) executeUpdate(tx *gorm.DB, m Mutation) (*Outcome, error) {
	model, err := p.fetch(tx, m.Kind, m.EntityID)
	if err != nil {
		return nil, err
	}
	if err := model.ApplyFields(m.Fields); err != nil {
		return nil, &MutationError{Code: CodeInvalidPayload, Kind: m.Kind, EntityID: m.EntityID, Err: err}
	}

	if err := p.ensureUnique(tx, model, m.EntityID); err != nil {
		return nil, err
	}
	if err := p.checkCommentThreading(tx, model); err != nil {
		return nil, err
	}

	if err := tx.Save(model).Error; err != nil {
		return nil, p.persistError(m.Kind, m.EntityID, err)
	}

	return &Outcome{Entity: model, Event: p.eventFor(model, realtime.ActionUpdated)}, nil
}

func (p *Pipeline) executeDelete(tx *gorm.DB, m Mutation) (*Outcome, error) {
	// A tracker lives and dies with its reporting effort item; it is only
	// removed by the cascade when the item goes.
	if m.Kind == entities.KindTracker {
		return nil, &MutationError{
			Code:     CodeInvalidPayload,
			Kind:     entities.KindTracker,
			EntityID: m.EntityID,
			Err:      errors.New("trackers are deleted with their reporting effort item"),
		}
	}

	model, err := p.fetch(tx, m.Kind, m.EntityID)
	if err != nil {
		return nil, err
	}

	block, err := p.checker.CheckDelete(tx, m.Kind, m.EntityID)
	if err != nil {
		return nil, p.persistError(m.Kind, m.EntityID, err)
	}
	if block != nil {
		return nil, &MutationError{
			Code:          CodeDependencyConflict,
			Kind:          m.Kind,
			EntityID:      m.EntityID,
			BlockingKind:  block.Child,
			BlockingCount: block.Count,
		}
	}

	if err := p.cascadeDelete(tx, m.Kind, m.EntityID); err != nil {
		return nil, err
	}
	if err := tx.Delete(model).Error; err != nil {
		return nil, p.persistError(m.Kind, m.EntityID, err)
	}

	return &Outcome{Entity: model, Event: p.eventFor(model, realtime.ActionDeleted)}, nil
}

// cascadeDelete removes true dependents (e.g. a tracker under its item,
// and the tracker's comments and tag assignments) depth-first before the
// parent row goes.
func (p *Pipeline) cascadeDelete(tx *gorm.DB, kind entities.Kind, id uint) error {
	for _, edge := range p.checker.CascadeEdges(kind) {
		child, err := entities.NewByKind(edge.Child)
		if err != nil {
			return p.persistError(kind, id, err)
		}
		var childIDs []uint
		if err := tx.Model(child).Where(edge.ForeignKey+" = ?", id).Pluck("id", &childIDs).Error; err != nil {
			return p.persistError(edge.Child, 0, err)
		}
		for _, childID := range childIDs {
			if err := p.cascadeDelete(tx, edge.Child, childID); err != nil {
				return err
			}
		}
		if len(childIDs) > 0 {
			if err := tx.Where(edge.ForeignKey+" = ?", id).Delete(child).Error; err != nil {
				return p.persistError(edge.Child, 0, err)
			}
		}
	}
	return nil
}

// checkCommentThreading enforces single-level replies: a comment's parent
// must exist, belong to the same tracker, and not itself be a reply, and
// a comment that has replies of its own can never become a reply.
func (p *Pipeline) checkCommentThreading(tx *gorm.DB, model entities.Entity) error {
	comment, ok := model.(*entities.TrackerComment)
	if !ok || comment.ParentCommentID == nil {
		return nil
	}
	if comment.ID != 0 {
		var replies int64
		if err := tx.Model(&entities.TrackerComment{}).
			Where("parent_comment_id = ?", comment.ID).
			Count(&replies).Error; err != nil {
			return p.persistError(entities.KindTrackerComment, comment.ID, err)
		}
		if replies > 0 {
			return &MutationError{
				Code:     CodeInvalidPayload,
				Kind:     entities.KindTrackerComment,
				EntityID: comment.ID,
				Err:      errors.New("comment with replies cannot become a reply"),
			}
		}
	}
	var parent entities.TrackerComment
	if err := tx.First(&parent, "id = ?", *comment.ParentCommentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &MutationError{
				Code:     CodeNotFound,
				Kind:     entities.KindTrackerComment,
				EntityID: *comment.ParentCommentID,
			}
		}
		return p.persistError(entities.KindTrackerComment, comment.ID, err)
	}
	if parent.ParentCommentID != nil {
		return &MutationError{
			Code: CodeInvalidPayload,
			Kind: entities.KindTrackerComment,
			Err:  errors.New("replies do not nest"),
		}
	}
	if parent.TrackerID != comment.TrackerID {
		return &MutationError{
			Code: CodeInvalidPayload,
			Kind: entities.KindTrackerComment,
			Err:  errors.New("parent comment belongs to a different tracker"),
		}
	}
	return nil
}

func (p *Pipeline) fetch(tx *gorm.DB, kind entities.Kind, id uint) (entities.Entity, error) {
	model, err := entities.NewByKind(kind)
	if err != nil {
		return nil, &MutationError{Code: CodeInvalidPayload, Kind: kind, Err: err}
	}
	if err := tx.First(model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &MutationError{Code: CodeNotFound, Kind: kind, EntityID: id}
		}
		return nil, p.persistError(kind, id, err)
	}
	return model, nil
}

// ensureUnique is the friendly pre-write check; the database unique index
// remains the final authority under concurrency.
func (p *Pipeline) ensureUnique(tx *gorm.DB, candidate entities.Entity, excludeID uint) error {
	conflict, err := p.checker.CheckUnique(tx, candidate, excludeID)
	if err != nil {
		return p.persistError(candidate.EntityKind(), excludeID, err)
	}
	if conflict != nil {
		return &MutationError{
			Code:          CodeDuplicateKey,
			Kind:          conflict.Kind,
			EntityID:      excludeID,
			Columns:       conflict.Columns,
			ConflictingID: conflict.ConflictingID,
		}
	}
	return nil
}

func (p *Pipeline) persistError(kind entities.Kind, id uint, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &MutationError{Code: CodeDuplicateKey, Kind: kind, EntityID: id, Err: err}
	}
	return &MutationError{Code: CodePersistenceFailure, Kind: kind, EntityID: id, Err: err}
}

func (p *Pipeline) eventFor(model entities.Entity, action realtime.Action) realtime.ChangeEvent {
	return realtime.ChangeEvent{
		Kind:     model.EntityKind(),
		EntityID: model.EntityID(),
		Action:   action,
		Topic:    entities.TopicFor(model.EntityKind()),
		Payload:  model,
	}
}

func (p *Pipeline) logFailure(m Mutation, err error) {
	fields := []zap.Field{
		zap.String("op", string(m.Op)),
		zap.String("kind", string(m.Kind)),
		zap.Uint("entity_id", m.EntityID),
		zap.Error(err),
	}
	if mutErr, ok := AsMutationError(err); ok && mutErr.Code != CodePersistenceFailure {
		p.logger.Info("mutation rejected", fields...)
		return
	}
	p.logger.Error("mutation failed", fields...)
}
