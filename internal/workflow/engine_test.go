package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/clinforge/relay/backend/internal/entities"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(entities.AllModels()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB, clock func() time.Time) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return engine
}

func seedTracker(t *testing.T, db *gorm.DB, production, qc entities.Status) *entities.Tracker {
	t.Helper()
	tracker := &entities.Tracker{
		ReportingEffortItemID: 1,
		ProductionStatus:      production,
		QCStatus:              qc,
		InProduction:          production == entities.StatusInProgress,
	}
	if err := db.Create(tracker).Error; err != nil {
		t.Fatalf("failed to seed tracker: %v", err)
	}
	return tracker
}

func mustTransition(t *testing.T, engine *Engine, trackerID uint, axis Axis, status entities.Status) *entities.Tracker {
	t.Helper()
	tracker, event, err := engine.Transition(context.Background(), trackerID, axis, status)
	if err != nil {
		t.Fatalf("unexpected transition error: %v", err)
	}
	if event == nil || event.MessageType() != "tracker_updated" {
		t.Fatalf("expected tracker_updated event, got %#v", event)
	}
	return tracker
}

func TestProductionOnHoldCannotComplete(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)
	tracker := seedTracker(t, db, entities.StatusOnHold, entities.StatusNotStarted)

	_, _, err := engine.Transition(context.Background(), tracker.ID, AxisProduction, entities.StatusCompleted)
	if err == nil {
		t.Fatal("expected on_hold -> completed to be rejected")
	}
	transErr, ok := AsTransitionError(err)
	if !ok {
		t.Fatalf("expected TransitionError, got %T: %v", err, err)
	}
	if transErr.Current != entities.StatusOnHold || transErr.Requested != entities.StatusCompleted {
		t.Fatalf("unexpected rejection detail: %#v", transErr)
	}

	var stored entities.Tracker
	if err := db.First(&stored, "id = ?", tracker.ID).Error; err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.ProductionStatus != entities.StatusOnHold {
		t.Fatalf("rejected transition must not persist, got %s", stored.ProductionStatus)
	}
}

func TestProductionHoldRoundTripPreservesQC(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)
	tracker := seedTracker(t, db, entities.StatusInProgress, entities.StatusInProgress)

	held := mustTransition(t, engine, tracker.ID, AxisProduction, entities.StatusOnHold)
	if held.InProduction {
		t.Fatal("on_hold tracker must not be flagged in production")
	}
	resumed := mustTransition(t, engine, tracker.ID, AxisProduction, entities.StatusInProgress)
	if !resumed.InProduction {
		t.Fatal("resumed tracker must be flagged in production")
	}
	if resumed.QCStatus != entities.StatusInProgress {
		t.Fatalf("production round trip must not alter qc status, got %s", resumed.QCStatus)
	}
}

func TestQCCompletionStampsAndReopenClears(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1750000000, 0)
	engine := newTestEngine(t, db, func() time.Time { return now })
	tracker := seedTracker(t, db, entities.StatusInProgress, entities.StatusInProgress)

	completed := mustTransition(t, engine, tracker.ID, AxisQC, entities.StatusCompleted)
	if completed.QCCompletedSeconds == nil || *completed.QCCompletedSeconds != now.UTC().Unix() {
		t.Fatalf("expected completion stamp %d, got %#v", now.UTC().Unix(), completed.QCCompletedSeconds)
	}

	reopened := mustTransition(t, engine, tracker.ID, AxisQC, entities.StatusInProgress)
	if reopened.QCCompletedSeconds != nil {
		t.Fatalf("reopen must clear completion stamp, got %d", *reopened.QCCompletedSeconds)
	}
}

func TestQCFailedAllowsRework(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)
	tracker := seedTracker(t, db, entities.StatusNotStarted, entities.StatusInProgress)

	failed := mustTransition(t, engine, tracker.ID, AxisQC, entities.StatusFailed)
	if failed.QCStatus != entities.StatusFailed {
		t.Fatalf("expected failed, got %s", failed.QCStatus)
	}
	reworked := mustTransition(t, engine, tracker.ID, AxisQC, entities.StatusInProgress)
	if reworked.QCStatus != entities.StatusInProgress {
		t.Fatalf("expected in_progress after rework, got %s", reworked.QCStatus)
	}
}

func TestQCCannotSkipInProgress(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)
	tracker := seedTracker(t, db, entities.StatusNotStarted, entities.StatusNotStarted)

	_, _, err := engine.Transition(context.Background(), tracker.ID, AxisQC, entities.StatusCompleted)
	if _, ok := AsTransitionError(err); !ok {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestTransitionMissingTracker(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	_, _, err := engine.Transition(context.Background(), 99, AxisProduction, entities.StatusInProgress)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveParentLeavesRepliesUnresolved(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1750000000, 0)
	engine := newTestEngine(t, db, func() time.Time { return now })

	parent := &entities.TrackerComment{TrackerID: 1, Author: "amy", Body: "top"}
	if err := db.Create(parent).Error; err != nil {
		t.Fatalf("failed to seed parent: %v", err)
	}
	reply := &entities.TrackerComment{TrackerID: 1, ParentCommentID: &parent.ID, Author: "bo", Body: "reply"}
	if err := db.Create(reply).Error; err != nil {
		t.Fatalf("failed to seed reply: %v", err)
	}

	resolved, _, err := engine.ResolveComment(context.Background(), parent.ID, "amy")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy != "amy" || resolved.ResolvedAtSeconds == nil {
		t.Fatalf("unexpected resolution state: %#v", resolved)
	}

	var storedReply entities.TrackerComment
	if err := db.First(&storedReply, "id = ?", reply.ID).Error; err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if storedReply.Resolved {
		t.Fatal("resolving a parent must not auto-resolve replies")
	}
}

func TestReopenCommentClearsResolution(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	resolvedAt := int64(1700000000)
	comment := &entities.TrackerComment{
		TrackerID:         1,
		Author:            "amy",
		Body:              "done?",
		Resolved:          true,
		ResolvedBy:        "bo",
		ResolvedAtSeconds: &resolvedAt,
	}
	if err := db.Create(comment).Error; err != nil {
		t.Fatalf("failed to seed comment: %v", err)
	}

	reopened, _, err := engine.ReopenComment(context.Background(), comment.ID)
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	if reopened.Resolved || reopened.ResolvedBy != "" || reopened.ResolvedAtSeconds != nil {
		t.Fatalf("expected cleared resolution, got %#v", reopened)
	}
}

func TestUnresolvedCountIgnoresRepliesAndResolved(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	open := &entities.TrackerComment{TrackerID: 1, Author: "amy", Body: "open"}
	if err := db.Create(open).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	resolved := &entities.TrackerComment{TrackerID: 1, Author: "bo", Body: "closed", Resolved: true}
	if err := db.Create(resolved).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	reply := &entities.TrackerComment{TrackerID: 1, ParentCommentID: &open.ID, Author: "cy", Body: "unresolved reply"}
	if err := db.Create(reply).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	count, err := engine.UnresolvedCount(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected unresolved count 1, got %d", count)
	}
}

func TestAssignTagIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	_, affected, event, err := engine.AssignTag(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("unexpected assign error: %v", err)
	}
	if affected != 1 || event == nil {
		t.Fatalf("expected first assign to create, affected=%d event=%v", affected, event)
	}

	_, affected, event, err = engine.AssignTag(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("unexpected repeat assign error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected affected 0 on repeat assign, got %d", affected)
	}
	if event != nil {
		t.Fatal("repeat assign must not emit an event")
	}

	var count int64
	if err := db.Model(&entities.TagAssignment{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single assignment row, got %d", count)
	}
}

func TestUnassignTag(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	if err := db.Create(&entities.TagAssignment{TrackerID: 1, TagID: 7}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	affected, event, err := engine.UnassignTag(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("unexpected unassign error: %v", err)
	}
	if affected != 1 || event == nil {
		t.Fatalf("expected removal, affected=%d", affected)
	}

	affected, event, err = engine.UnassignTag(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("unexpected repeat unassign error: %v", err)
	}
	if affected != 0 || event != nil {
		t.Fatalf("expected no-op on absent assignment, affected=%d", affected)
	}
}

func TestPinComment(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, db, time.Now)

	comment := &entities.TrackerComment{TrackerID: 1, Author: "amy", Body: "important"}
	if err := db.Create(comment).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	pinned, _, err := engine.PinComment(context.Background(), comment.ID, true)
	if err != nil {
		t.Fatalf("unexpected pin error: %v", err)
	}
	if !pinned.Pinned {
		t.Fatal("expected comment to be pinned")
	}
}
