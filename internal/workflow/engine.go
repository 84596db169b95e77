// Package workflow implements the tracker state machine and the comment
// and tag operations attached to it. Invalid transitions are rejected
// before persistence, never silently coerced.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinforge/relay/backend/internal/entities"
	"github.com/clinforge/relay/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Axis selects which status axis a transition targets.
type Axis string

const (
	AxisProduction Axis = "production"
	AxisQC         Axis = "qc"
)

var (
	// ErrNotFound indicates a missing tracker or comment.
	ErrNotFound = errors.New("workflow: not found")

	errMissingDatabase = errors.New("workflow: database handle is required")
	errUnknownAxis     = errors.New("workflow: unknown axis")
)

// TransitionError reports a rejected status transition.
type TransitionError struct {
	TrackerID uint
	Axis      Axis
	Current   entities.Status
	Requested entities.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow: invalid %s transition for tracker %d: %s -> %s",
		e.Axis, e.TrackerID, e.Current, e.Requested)
}

// AsTransitionError unwraps err to a TransitionError when present.
func AsTransitionError(err error) (*TransitionError, bool) {
	var transErr *TransitionError
	if errors.As(err, &transErr) {
		return transErr, true
	}
	return nil, false
}

// productionTransitions closes the production axis over exactly the
// allowed moves; on_hold is reachable from in_progress only and never
// leads straight to completed.
var productionTransitions = map[entities.Status][]entities.Status{
	entities.StatusNotStarted: {entities.StatusInProgress},
	entities.StatusInProgress: {entities.StatusCompleted, entities.StatusOnHold},
	entities.StatusOnHold:     {entities.StatusInProgress},
	entities.StatusCompleted:  {},
}

// qcTransitions allows rework after failure and an explicit reopen from
// completed back to in_progress.
var qcTransitions = map[entities.Status][]entities.Status{
	entities.StatusNotStarted: {entities.StatusInProgress},
	entities.StatusInProgress: {entities.StatusCompleted, entities.StatusFailed},
	entities.StatusFailed:     {entities.StatusInProgress},
	entities.StatusCompleted:  {entities.StatusInProgress},
}

func transitionAllowed(table map[entities.Status][]entities.Status, current, requested entities.Status) bool {
	for _, next := range table[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// EngineConfig describes the engine's collaborators.
type EngineConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Engine mutates tracker workflow state. Alongside the mutation pipeline
// it is the only path allowed to alter tracked entities.
type Engine struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewEngine constructs the workflow engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Transition moves one axis of the tracker to newStatus. Setting the QC
// axis to completed stamps the completion date if unset; reopening clears
// it. The in_production flag is recomputed on every production write.
func (e *Engine) Transition(ctx context.Context, trackerID uint, axis Axis, newStatus entities.Status) (*entities.Tracker, *realtime.ChangeEvent, error) {
	var tracker entities.Tracker
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tracker, "id = ?", trackerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: tracker %d", ErrNotFound, trackerID)
			}
			return err
		}

		switch axis {
		case AxisProduction:
			if !transitionAllowed(productionTransitions, tracker.ProductionStatus, newStatus) {
				return &TransitionError{TrackerID: trackerID, Axis: axis, Current: tracker.ProductionStatus, Requested: newStatus}
			}
			tracker.ProductionStatus = newStatus
			tracker.InProduction = newStatus == entities.StatusInProgress
		case AxisQC:
			if !transitionAllowed(qcTransitions, tracker.QCStatus, newStatus) {
				return &TransitionError{TrackerID: trackerID, Axis: axis, Current: tracker.QCStatus, Requested: newStatus}
			}
			previous := tracker.QCStatus
			tracker.QCStatus = newStatus
			if newStatus == entities.StatusCompleted && tracker.QCCompletedSeconds == nil {
				completedAt := e.clock().UTC().Unix()
				tracker.QCCompletedSeconds = &completedAt
			}
			if previous == entities.StatusCompleted && newStatus == entities.StatusInProgress {
				tracker.QCCompletedSeconds = nil
			}
		default:
			return fmt.Errorf("%w: %s", errUnknownAxis, axis)
		}

		return tx.Save(&tracker).Error
	})
	if txErr != nil {
		e.logRejection("transition", txErr,
			zap.Uint("tracker_id", trackerID),
			zap.String("axis", string(axis)),
			zap.String("requested", string(newStatus)))
		return nil, nil, txErr
	}

	event := trackerEvent(&tracker)
	return &tracker, &event, nil
}

// ResolveComment marks the comment resolved. Resolving a parent never
// auto-resolves its replies.
func (e *Engine) ResolveComment(ctx context.Context, commentID uint, resolvedBy string) (*entities.TrackerComment, *realtime.ChangeEvent, error) {
	return e.updateComment(ctx, commentID, func(comment *entities.TrackerComment) {
		resolvedAt := e.clock().UTC().Unix()
		comment.Resolved = true
		comment.ResolvedBy = resolvedBy
		comment.ResolvedAtSeconds = &resolvedAt
	})
}

// ReopenComment clears the comment's resolution state.
func (e *Engine) ReopenComment(ctx context.Context, commentID uint) (*entities.TrackerComment, *realtime.ChangeEvent, error) {
	return e.updateComment(ctx, commentID, func(comment *entities.TrackerComment) {
		comment.Resolved = false
		comment.ResolvedBy = ""
		comment.ResolvedAtSeconds = nil
	})
}

// PinComment sets the comment's pin flag.
func (e *Engine) PinComment(ctx context.Context, commentID uint, pinned bool) (*entities.TrackerComment, *realtime.ChangeEvent, error) {
	return e.updateComment(ctx, commentID, func(comment *entities.TrackerComment) {
		comment.Pinned = pinned
	})
}

func (e *Engine) updateComment(ctx context.Context, commentID uint, apply func(*entities.TrackerComment)) (*entities.TrackerComment, *realtime.ChangeEvent, error) {
	var comment entities.TrackerComment
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&comment, "id = ?", commentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: comment %d", ErrNotFound, commentID)
			}
			return err
		}
		apply(&comment)
		return tx.Save(&comment).Error
	})
	if txErr != nil {
		e.logRejection("update_comment", txErr, zap.Uint("comment_id", commentID))
		return nil, nil, txErr
	}

	event := realtime.ChangeEvent{
		Kind:     entities.KindTrackerComment,
		EntityID: comment.ID,
		Action:   realtime.ActionUpdated,
		Topic:    entities.TopicFor(entities.KindTrackerComment),
		Payload:  &comment,
	}
	return &comment, &event, nil
}

// UnresolvedCount returns the badge rollup for a tracker: unresolved
// parent-level comments only, replies excluded.
func (e *Engine) UnresolvedCount(ctx context.Context, trackerID uint) (int64, error) {
	var count int64
	err := e.db.WithContext(ctx).
		Model(&entities.TrackerComment{}).
		Where("tracker_id = ? AND parent_comment_id IS NULL AND resolved = ?", trackerID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AssignTag attaches the tag to the tracker. Assigning an already
// assigned tag succeeds with affected 0 and emits no event.
func (e *Engine) AssignTag(ctx context.Context, trackerID, tagID uint) (*entities.TagAssignment, int64, *realtime.ChangeEvent, error) {
	var assignment entities.TagAssignment
	var affected int64
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&assignment, "tracker_id = ? AND tag_id = ?", trackerID, tagID).Error
		if err == nil {
			affected = 0
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		assignment = entities.TagAssignment{TrackerID: trackerID, TagID: tagID}
		if err := tx.Create(&assignment).Error; err != nil {
			return err
		}
		affected = 1
		return nil
	})
	if txErr != nil {
		e.logRejection("assign_tag", txErr,
			zap.Uint("tracker_id", trackerID),
			zap.Uint("tag_id", tagID))
		return nil, 0, nil, txErr
	}

	if affected == 0 {
		return &assignment, 0, nil, nil
	}
	event := realtime.ChangeEvent{
		Kind:     entities.KindTagAssignment,
		EntityID: assignment.ID,
		Action:   realtime.ActionCreated,
		Topic:    entities.TopicFor(entities.KindTagAssignment),
		Payload:  &assignment,
	}
	return &assignment, 1, &event, nil
}

// UnassignTag detaches the tag; removing an absent assignment succeeds
// with affected 0.
func (e *Engine) UnassignTag(ctx context.Context, trackerID, tagID uint) (int64, *realtime.ChangeEvent, error) {
	var assignment entities.TagAssignment
	var affected int64
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&assignment, "tracker_id = ? AND tag_id = ?", trackerID, tagID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			affected = 0
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&assignment).Error; err != nil {
			return err
		}
		affected = 1
		return nil
	})
	if txErr != nil {
		return 0, nil, txErr
	}

	if affected == 0 {
		return 0, nil, nil
	}
	event := realtime.ChangeEvent{
		Kind:     entities.KindTagAssignment,
		EntityID: assignment.ID,
		Action:   realtime.ActionDeleted,
		Topic:    entities.TopicFor(entities.KindTagAssignment),
		Payload:  &assignment,
	}
	return 1, &event, nil
}

func trackerEvent(tracker *entities.Tracker) realtime.ChangeEvent {
	return realtime.ChangeEvent{
		Kind:     entities.KindTracker,
		EntityID: tracker.ID,
		Action:   realtime.ActionUpdated,
		Topic:    entities.TopicFor(entities.KindTracker),
		Payload:  tracker,
	}
}

func (e *Engine) logRejection(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	if _, ok := AsTransitionError(err); ok || errors.Is(err, ErrNotFound) {
		e.logger.Info("workflow request rejected", attrs...)
		return
	}
	e.logger.Error("workflow operation failed", attrs...)
}
