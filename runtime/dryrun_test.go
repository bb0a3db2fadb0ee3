package runtime

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/pithecene-io/workbench/types"
)

func TestDryRunExecutor_RecordsCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewDryRunExecutor(nil)
	e.Stream(types.Dispatch{UnitID: "a#0"})
	e.Run(types.Dispatch{UnitID: "a#0"})
	e.Abort("a#0")
	e.Wait()

	calls := e.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Mode != types.DispatchStream || calls[1].Mode != types.DispatchRun || calls[2].Mode != types.DispatchAbort {
		t.Errorf("modes = %s %s %s", calls[0].Mode, calls[1].Mode, calls[2].Mode)
	}
	if runs := e.Runs(); len(runs) != 1 || runs[0].UnitID != "a#0" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestDryRunExecutor_ReportsOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewDryRunExecutor(func(d types.Dispatch) (types.UnitStatus, string) {
		return types.UnitStatusFailed, "boom " + d.UnitID
	})
	got := make(chan string, 1)
	e.Bind(sinkFunc(func(unitID string, status types.UnitStatus, message string) error {
		got <- unitID + " " + string(status) + " " + message
		return nil
	}))

	e.Run(types.Dispatch{UnitID: "a#0"})
	e.Wait()

	if msg := <-got; msg != "a#0 failed boom a#0" {
		t.Errorf("report = %q", msg)
	}
}
