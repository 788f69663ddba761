package repository

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/kpataki/klaragw/internal/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	if err := db.AutoMigrate(&model.Reminder{}, &model.CallRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestReminderRepository_CreateAndList(t *testing.T) {
	t.Parallel()

	repo := NewReminderRepository(testDB(t))
	if err := repo.Create(&model.Reminder{Text: "call the plumber", CallID: "call-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(&model.Reminder{Text: "water the plants", CallID: "call-2"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reminders, err := repo.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reminders) != 2 {
		t.Fatalf("List returned %d reminders, want 2", len(reminders))
	}
}

func TestCallRepository_CreateAndRecent(t *testing.T) {
	t.Parallel()

	repo := NewCallRepository(testDB(t))
	now := time.Now()
	record := &model.CallRecord{
		CallID:          "call-1",
		Caller:          "sip:100@pbx",
		StartedAt:       now.Add(-time.Minute),
		EndedAt:         now,
		DurationSeconds: 60,
		Reason:          "remote hangup",
	}
	if err := repo.Create(record); err != nil {
		t.Fatalf("Create: %v", err)
	}

	records, err := repo.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent returned %d records, want 1", len(records))
	}
	if records[0].CallID != "call-1" || records[0].DurationSeconds != 60 {
		t.Errorf("record round-trip mismatch: %+v", records[0])
	}
}
