package driver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
)

// collect asks the source for every active agent, in id order. Nothing is
// mutated here, so a cancelled ctx aborts the step cleanly.
func (e *Episode) collect(ctx context.Context) (map[string]action.Action, []Failure, error) {
	active := e.reg.Active()
	acts := make(map[string]action.Action, len(active))
	var failures []Failure
	for _, id := range active {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		a, f := e.ask(ctx, id, e.views[id])
		if f != nil {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			e.log.Warn("action source failed",
				zap.Uint64("tick", e.tick+1),
				zap.String("agent", id),
				zap.String("code", f.Code),
				zap.String("reason", f.Reason))
			failures = append(failures, *f)
			a = action.Noop()
		}
		acts[id] = a
	}
	return acts, failures, nil
}

type answer struct {
	act action.Action
	err error
}

// ask runs one source call under the action timeout. A call that outlives the
// timeout is abandoned; its late result is discarded.
func (e *Episode) ask(ctx context.Context, agentID string, view camera.View) (action.Action, *Failure) {
	if e.timeout <= 0 {
		r := e.call(ctx, agentID, view)
		return e.judge(agentID, r, nil)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ch := make(chan answer, 1)
	go func() { ch <- e.call(cctx, agentID, view) }()

	select {
	case r := <-ch:
		return e.judge(agentID, r, cctx.Err())
	case <-cctx.Done():
		return e.judge(agentID, answer{err: cctx.Err()}, cctx.Err())
	}
}

func (e *Episode) call(ctx context.Context, agentID string, view camera.View) (r answer) {
	defer func() {
		if p := recover(); p != nil {
			r = answer{err: fmt.Errorf("panic: %v", p)}
		}
	}()
	a, err := e.src.Act(ctx, agentID, view)
	return answer{act: a, err: err}
}

func (e *Episode) judge(agentID string, r answer, deadline error) (action.Action, *Failure) {
	if errors.Is(deadline, context.DeadlineExceeded) {
		return action.Action{}, &Failure{
			AgentID: agentID,
			Code:    protocol.ErrSourceTimeout,
			Reason:  fmt.Sprintf("no action within %s", e.timeout),
		}
	}
	if r.err != nil {
		return action.Action{}, &Failure{AgentID: agentID, Code: protocol.ErrSourceFailed, Reason: r.err.Error()}
	}
	return r.act, nil
}
