package baseline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_SaveAndGetBaseline_MostRecentWins(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines.jsonl"))

	s.Save(Record{RunID: "r1", Model: "fm", SuiteName: "core", Timestamp: time.Now().Add(-time.Hour), PassRate: 0.5})
	s.Save(Record{RunID: "r2", Model: "fm", SuiteName: "core", Timestamp: time.Now(), PassRate: 0.8})

	got, ok, err := s.GetBaseline("fm", "core")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if !ok || got.RunID != "r2" {
		t.Fatalf("expected r2 as most recent, got %+v (ok=%v)", got, ok)
	}
}

func TestStore_GetBaseline_NoneExists(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines.jsonl"))
	_, ok, err := s.GetBaseline("fm", "core")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if ok {
		t.Fatal("expected no baseline")
	}
}

func TestStore_LoadAll_ToleratesCorruptedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.jsonl")
	s := NewStore(path)
	s.Save(Record{RunID: "r1", Model: "fm", SuiteName: "core", PassRate: 0.5})

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("not json\n")
	f.Close()

	s.Save(Record{RunID: "r2", Model: "fm", SuiteName: "core", PassRate: 0.6})

	records, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(records))
	}
}

func TestStore_GetHistory_AscendingAndLimited(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines.jsonl"))
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Save(Record{RunID: string(rune('a' + i)), Model: "fm", SuiteName: "core", Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	history, err := s.GetHistory(HistoryQuery{Model: "fm", SuiteName: "core", Limit: 2})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	if history[0].Timestamp.After(history[1].Timestamp) {
		t.Fatal("expected ascending order")
	}
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baselines.jsonl")
	s := NewStore(path)
	s.Save(Record{RunID: "r1"})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	records, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty store, got %d records", len(records))
	}
}
