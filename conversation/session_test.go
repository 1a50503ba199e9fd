package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/messages"
)

func TestSessionCancel(t *testing.T) {
	conv := New()
	apply(t, conv,
		events.MessageStart{RunID: testRunID, MessageID: "m1", Role: messages.RoleAssistant},
		events.MessageDelta{RunID: testRunID, MessageID: "m1", Kind: events.PartText, Text: "half an ans"},
		events.ToolCallStart{RunID: testRunID, MessageID: "m1", CallID: "c1", Name: "get_weather"},
		events.ToolCallArgsEnd{RunID: testRunID, CallID: "c1"},
	)

	aborts := 0
	sess := NewSession(conv, func() { aborts++ })

	sess.Cancel()
	sess.Cancel()

	assert.Equal(t, 1, aborts)
	assert.True(t, sess.Cancelled())
	require.NoError(t, sess.Err())

	select {
	case <-sess.Done():
	default:
		t.Fatal("session not released after cancel")
	}

	snap := conv.Snapshot()
	assert.True(t, snap.Messages[0].Frozen)
	assert.Equal(t, "half an ans", snap.Messages[0].Text())

	call, _ := conv.ToolCall("c1")
	assert.Equal(t, messages.ToolError, call.Status)
	assert.Equal(t, CancelReason, call.Error)
}

func TestSessionCompleteFirstWins(t *testing.T) {
	sess := NewSession(New(), nil)
	boom := errors.New("transport died")

	sess.Complete(boom)
	sess.Complete(nil)

	assert.ErrorIs(t, sess.Err(), boom)
	assert.False(t, sess.Cancelled())
}

func TestCancelAfterCompleteKeepsError(t *testing.T) {
	conv := New()
	sess := NewSession(conv, nil)
	boom := errors.New("protocol violation")

	sess.Complete(boom)
	sess.Cancel()

	assert.ErrorIs(t, sess.Err(), boom)
	assert.True(t, sess.Cancelled())
}
