package transcript

import (
	"testing"

	"github.com/antoniostano/acolyte/internal/protocol"
)

func TestMergeFiltersKnownIdentities(t *testing.T) {
	tr := New()
	tr.Append(Entry{ID: "m1", Role: RoleUser, Content: "hi"})
	tr.Append(Entry{ID: "m2", Role: RoleAssistant, Content: "hello"})

	added := tr.Merge([]Entry{
		{ID: "m2", Role: RoleAssistant, Content: "hello (dup)"},
		{ID: "m3", Role: RoleAssistant, Content: "third"},
		{ID: "m1", Role: RoleUser, Content: "hi (dup)"},
		{ID: "m4", Role: RoleUser, Content: "fourth"},
	})
	if len(added) != 2 || added[0].ID != "m3" || added[1].ID != "m4" {
		t.Fatalf("added = %+v, want m3 then m4", added)
	}

	entries := tr.Entries()
	want := []string{"m1", "m2", "m3", "m4"}
	if len(entries) != len(want) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
	if entries[1].Content != "hello" {
		t.Fatalf("existing entry mutated: %+v", entries[1])
	}
}

func TestMergeAssignsMissingIdentities(t *testing.T) {
	tr := New()
	added := tr.Merge([]Entry{{Role: RoleAssistant, Content: "a"}, {Role: RoleAssistant, Content: "b"}})
	if len(added) != 2 || added[0].ID == "" || added[0].ID == added[1].ID {
		t.Fatalf("added = %+v, want two entries with distinct identities", added)
	}
}

func TestResetKeepsSingleEntry(t *testing.T) {
	tr := New()
	tr.Append(Entry{ID: "old", Content: "old"})
	welcome := tr.Reset(NewEntry(RoleAssistant, "Welcome", SubtypeMessage))
	if tr.Len() != 1 || tr.Contains("old") || !tr.Contains(welcome.ID) {
		t.Fatalf("unexpected transcript after reset: %+v", tr.Entries())
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	tr := New()
	tr.Append(Entry{ID: "x", Content: "original"})
	entries := tr.Entries()
	entries[0].Content = "changed"
	if got := tr.Entries()[0].Content; got != "original" {
		t.Fatalf("Content = %q, want %q", got, "original")
	}
}

func TestEventLogNewestFirstAndBounded(t *testing.T) {
	log := NewEventLog(2)
	log.Record(DirectionOutbound, protocol.Event{ID: "1", Kind: protocol.KindItemCreate})
	log.Record(DirectionOutbound, protocol.Event{ID: "2", Kind: protocol.KindResponseCreate})
	log.Record(DirectionInbound, protocol.Event{ID: "3", Kind: "session.created"})

	got := log.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(got))
	}
	if got[0].Event.ID != "3" || got[1].Event.ID != "2" {
		t.Fatalf("order = [%s %s], want [3 2]", got[0].Event.ID, got[1].Event.ID)
	}

	log.Clear()
	if log.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", log.Len())
	}
}
