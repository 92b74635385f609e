package baseline

import (
	"reflect"
	"sort"
	"testing"
)

func taskStatusMap(pairs ...any) map[string]TaskStatus {
	m := make(map[string]TaskStatus)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1].(TaskStatus)
	}
	return m
}

// TestCompare_S5_ImprovedThenRegressed walks the exact three-run scenario
// from the benchmark runner's worked example: run A becomes the baseline,
// run B improves against it, run C is mixed against A and regressed
// against B.
func TestCompare_S5_ImprovedThenRegressed(t *testing.T) {
	runA := Record{
		Model: "fm", SuiteName: "core", PassRate: 0.6,
		TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusFail, "t3", StatusPass, "t4", StatusPass, "t5", StatusFail),
	}
	runB := CurrentResult{
		PassRate:   0.8,
		TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusPass, "t3", StatusPass, "t4", StatusPass, "t5", StatusFail),
	}
	runC := CurrentResult{
		PassRate:   0.6,
		TaskStatus: taskStatusMap("t1", StatusFail, "t2", StatusPass, "t3", StatusPass, "t4", StatusPass, "t5", StatusFail),
	}

	cmpB := Compare(runB, runA)
	if cmpB.Verdict != VerdictImproved {
		t.Fatalf("B vs A: expected improved, got %q", cmpB.Verdict)
	}
	if !reflect.DeepEqual(sortedCopy(cmpB.ImprovedTasks), []string{"t2"}) || len(cmpB.RegressedTasks) != 0 {
		t.Fatalf("B vs A: unexpected deltas improved=%v regressed=%v", cmpB.ImprovedTasks, cmpB.RegressedTasks)
	}
	if cmpB.Alert != nil {
		t.Fatalf("B vs A: expected no alert, got %+v", cmpB.Alert)
	}

	cmpCvsA := Compare(runC, runA)
	if cmpCvsA.Verdict != VerdictMixed {
		t.Fatalf("C vs A: expected mixed, got %q", cmpCvsA.Verdict)
	}
	if !reflect.DeepEqual(sortedCopy(cmpCvsA.ImprovedTasks), []string{"t2"}) {
		t.Fatalf("C vs A: expected improved=[t2], got %v", cmpCvsA.ImprovedTasks)
	}
	if !reflect.DeepEqual(sortedCopy(cmpCvsA.RegressedTasks), []string{"t1"}) {
		t.Fatalf("C vs A: expected regressed=[t1], got %v", cmpCvsA.RegressedTasks)
	}

	runBRecord := Record{Model: "fm", SuiteName: "core", PassRate: runB.PassRate, TaskStatus: runB.TaskStatus}
	cmpCvsB := Compare(runC, runBRecord)
	if cmpCvsB.Verdict != VerdictRegressed {
		t.Fatalf("C vs B: expected regressed, got %q", cmpCvsB.Verdict)
	}
	if cmpCvsB.Alert == nil || cmpCvsB.Alert.Severity != SeverityWarning {
		t.Fatalf("C vs B: expected warning alert, got %+v", cmpCvsB.Alert)
	}
}

func TestCompare_NewTaskAbsentFromBaseline_NotCountedAsImprovement(t *testing.T) {
	base := Record{Model: "fm", SuiteName: "core", PassRate: 0.5, TaskStatus: taskStatusMap("t1", StatusPass)}
	current := CurrentResult{PassRate: 0.66, TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusPass)}

	cmp := Compare(current, base)
	for _, d := range cmp.Deltas {
		if d.TaskID == "t2" {
			if d.Baseline != statusNA {
				t.Fatalf("expected N/A baseline for new task, got %q", d.Baseline)
			}
			if d.Changed || d.Improved {
				t.Fatalf("a new task must not count as changed/improved: %+v", d)
			}
		}
	}
}

func TestCompare_Unchanged_WhenNoDeltas(t *testing.T) {
	base := Record{PassRate: 0.5, TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusFail)}
	current := CurrentResult{PassRate: 0.5, TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusFail)}

	cmp := Compare(current, base)
	if cmp.Verdict != VerdictUnchanged {
		t.Fatalf("expected unchanged, got %q", cmp.Verdict)
	}
	if cmp.Alert != nil {
		t.Fatal("expected no alert for unchanged verdict")
	}
}

func TestCompare_CriticalSeverity_ThreeOrMoreRegressions(t *testing.T) {
	base := Record{PassRate: 1.0, TaskStatus: taskStatusMap("t1", StatusPass, "t2", StatusPass, "t3", StatusPass)}
	current := CurrentResult{PassRate: 0.0, TaskStatus: taskStatusMap("t1", StatusFail, "t2", StatusFail, "t3", StatusFail)}

	cmp := Compare(current, base)
	if cmp.Alert == nil || cmp.Alert.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %+v", cmp.Alert)
	}
}

func TestCompareOrCreateBaseline_CreatesWhenAbsent(t *testing.T) {
	store := NewStore(t.TempDir() + "/baselines.jsonl")
	current := CurrentResult{PassRate: 0.5, TaskStatus: taskStatusMap("t1", StatusPass)}

	cmp, existed, err := CompareOrCreateBaseline(store, "fm", "core", "run-1", current, true)
	if err != nil {
		t.Fatalf("CompareOrCreateBaseline: %v", err)
	}
	if existed {
		t.Fatal("expected no prior baseline")
	}
	if cmp.Verdict != VerdictUnchanged {
		t.Fatalf("expected unchanged verdict when creating, got %q", cmp.Verdict)
	}

	saved, ok, err := store.GetBaseline("fm", "core")
	if err != nil || !ok {
		t.Fatalf("expected baseline saved, ok=%v err=%v", ok, err)
	}
	if saved.RunID != "run-1" {
		t.Fatalf("unexpected saved record: %+v", saved)
	}
}

func TestUpdateBaselineIfImproved_RespectsThreshold(t *testing.T) {
	store := NewStore(t.TempDir() + "/baselines.jsonl")
	store.Save(Record{Model: "fm", SuiteName: "core", PassRate: 0.5})

	saved, err := UpdateBaselineIfImproved(store, "fm", "core", "run-2", CurrentResult{PassRate: 0.505}, 0.01)
	if err != nil {
		t.Fatalf("UpdateBaselineIfImproved: %v", err)
	}
	if saved {
		t.Fatal("expected no save: improvement below threshold")
	}

	saved, err = UpdateBaselineIfImproved(store, "fm", "core", "run-3", CurrentResult{PassRate: 0.7}, 0.01)
	if err != nil {
		t.Fatalf("UpdateBaselineIfImproved: %v", err)
	}
	if !saved {
		t.Fatal("expected save: improvement clears threshold")
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
