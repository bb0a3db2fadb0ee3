package runtime

import (
	"sync"

	"github.com/pithecene-io/workbench/types"
)

// Call is one request recorded by DryRunExecutor.
type Call struct {
	Mode     types.DispatchMode
	Dispatch types.Dispatch
}

// OutcomeFunc decides the reported result of a dry run.
type OutcomeFunc func(d types.Dispatch) (types.UnitStatus, string)

// DryRunExecutor records requests and reports every run as complete, or as
// decided by its OutcomeFunc. Reports are delivered from a goroutine so the
// orchestrator never re-enters itself.
type DryRunExecutor struct {
	outcome OutcomeFunc

	mu    sync.Mutex
	sink  StatusSink
	calls []Call
	wg    sync.WaitGroup
}

// NewDryRunExecutor creates a DryRunExecutor. A nil outcome completes every unit.
func NewDryRunExecutor(outcome OutcomeFunc) *DryRunExecutor {
	if outcome == nil {
		outcome = func(types.Dispatch) (types.UnitStatus, string) {
			return types.UnitStatusComplete, ""
		}
	}
	return &DryRunExecutor{outcome: outcome}
}

// Bind sets the status sink.
func (e *DryRunExecutor) Bind(sink StatusSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Stream records the dispatch.
func (e *DryRunExecutor) Stream(d types.Dispatch) {
	e.record(types.DispatchStream, d)
}

// Run records the dispatch and reports its outcome asynchronously.
func (e *DryRunExecutor) Run(d types.Dispatch) {
	sink := e.record(types.DispatchRun, d)
	if sink == nil {
		return
	}
	status, message := e.outcome(d)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = sink.ReportStatus(d.UnitID, status, message)
	}()
}

// Abort records the abort.
func (e *DryRunExecutor) Abort(unitID string) {
	e.record(types.DispatchAbort, types.Dispatch{UnitID: unitID})
}

func (e *DryRunExecutor) record(mode types.DispatchMode, d types.Dispatch) StatusSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Mode: mode, Dispatch: d})
	return e.sink
}

// Wait blocks until every pending report has been delivered.
func (e *DryRunExecutor) Wait() {
	e.wg.Wait()
}

// Calls returns a copy of the recorded requests in call order.
func (e *DryRunExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Runs returns the recorded run requests in call order.
func (e *DryRunExecutor) Runs() []types.Dispatch {
	var out []types.Dispatch
	for _, c := range e.Calls() {
		if c.Mode == types.DispatchRun {
			out = append(out, c.Dispatch)
		}
	}
	return out
}
