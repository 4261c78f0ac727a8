package journal_test

import (
	"testing"
	"time"

	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/internal/journal"
)

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return j
}

func TestAppendAndDay(t *testing.T) {
	j := openJournal(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	entries := []journal.Entry{
		{Time: base, UserText: "hi", BotText: "Hello!", Mode: convo.ModeChat},
		{Time: base.Add(5 * time.Minute), UserText: "tell me a story", BotText: "Once upon a time.", Mode: convo.ModeStory},
		{Time: base.Add(26 * time.Hour), UserText: "next day", BotText: "Morning!", Mode: convo.ModeChat},
	}
	for _, e := range entries {
		if err := j.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	day, err := j.Day(base)
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("Day returned %d entries, want 2", len(day))
	}
	if day[0].UserText != "hi" || day[1].UserText != "tell me a story" {
		t.Errorf("entries out of order: %+v", day)
	}
	if day[1].Mode != convo.ModeStory {
		t.Errorf("mode = %q, want story", day[1].Mode)
	}
}

func TestAppendStampsZeroTime(t *testing.T) {
	j := openJournal(t)

	before := time.Now()
	if err := j.Append(journal.Entry{UserText: "hi", BotText: "Hello!", Mode: convo.ModeChat}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := j.Range(before.Add(-time.Second), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Range returned %d entries, want 1", len(got))
	}
	if got[0].Time.IsZero() {
		t.Error("entry time was not stamped")
	}
}

func TestDayEmpty(t *testing.T) {
	j := openJournal(t)

	day, err := j.Day(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if len(day) != 0 {
		t.Errorf("Day returned %d entries, want 0", len(day))
	}
}
