package events

import "context"

// Hook observes canonical events as the state machine applies them. The
// rendering layer implements it to receive a notification on every state
// mutation; embed NoopHook to only handle the kinds you care about.
type Hook interface {
	OnRunStart(context.Context, RunStart)
	OnRunEnd(context.Context, RunEnd)
	OnMessageStart(context.Context, MessageStart)
	OnMessageDelta(context.Context, MessageDelta)
	OnMessageEnd(context.Context, MessageEnd)
	OnToolCallStart(context.Context, ToolCallStart)
	OnToolCallArgsDelta(context.Context, ToolCallArgsDelta)
	OnToolCallArgsEnd(context.Context, ToolCallArgsEnd)
	OnToolCallResult(context.Context, ToolCallResult)
	OnToolCallError(context.Context, ToolCallError)
	OnToolCallPendingApproval(context.Context, ToolCallPendingApproval)
	OnStateSnapshot(context.Context, StateSnapshot)
	OnStateDelta(context.Context, StateDelta)
	OnError(context.Context, Error)
}

// NoopHook implements Hook with empty methods.
type NoopHook struct{}

func (NoopHook) OnRunStart(context.Context, RunStart)                   {}
func (NoopHook) OnRunEnd(context.Context, RunEnd)                       {}
func (NoopHook) OnMessageStart(context.Context, MessageStart)           {}
func (NoopHook) OnMessageDelta(context.Context, MessageDelta)           {}
func (NoopHook) OnMessageEnd(context.Context, MessageEnd)               {}
func (NoopHook) OnToolCallStart(context.Context, ToolCallStart)         {}
func (NoopHook) OnToolCallArgsDelta(context.Context, ToolCallArgsDelta) {}
func (NoopHook) OnToolCallArgsEnd(context.Context, ToolCallArgsEnd)     {}
func (NoopHook) OnToolCallResult(context.Context, ToolCallResult)       {}
func (NoopHook) OnToolCallError(context.Context, ToolCallError)         {}
func (NoopHook) OnToolCallPendingApproval(context.Context, ToolCallPendingApproval) {
}
func (NoopHook) OnStateSnapshot(context.Context, StateSnapshot) {}
func (NoopHook) OnStateDelta(context.Context, StateDelta)       {}
func (NoopHook) OnError(context.Context, Error)                 {}

// Dispatch routes an event to the matching hook method.
func Dispatch(ctx context.Context, hook Hook, ev Event) {
	if hook == nil {
		return
	}
	switch e := ev.(type) {
	case RunStart:
		hook.OnRunStart(ctx, e)
	case RunEnd:
		hook.OnRunEnd(ctx, e)
	case MessageStart:
		hook.OnMessageStart(ctx, e)
	case MessageDelta:
		hook.OnMessageDelta(ctx, e)
	case MessageEnd:
		hook.OnMessageEnd(ctx, e)
	case ToolCallStart:
		hook.OnToolCallStart(ctx, e)
	case ToolCallArgsDelta:
		hook.OnToolCallArgsDelta(ctx, e)
	case ToolCallArgsEnd:
		hook.OnToolCallArgsEnd(ctx, e)
	case ToolCallResult:
		hook.OnToolCallResult(ctx, e)
	case ToolCallError:
		hook.OnToolCallError(ctx, e)
	case ToolCallPendingApproval:
		hook.OnToolCallPendingApproval(ctx, e)
	case StateSnapshot:
		hook.OnStateSnapshot(ctx, e)
	case StateDelta:
		hook.OnStateDelta(ctx, e)
	case Error:
		hook.OnError(ctx, e)
	}
}
