/*
Package weft is a client library for conversational AI agents that speak
incompatible streaming protocols. It normalizes each backend's wire format
into one canonical event stream and conversation model, so application code
written against weft works unchanged across backends.

# Key Concepts

 1. Adapters
    An adapter owns one wire protocol. It translates backend frames into
    canonical events and turns into backend requests. Three adapters ship
    with the library: adapter/agui for SSE event streams, adapter/taskrun
    for single-document task responses, and adapter/gated for
    permission-gated NDJSON sessions.

 2. Conversation
    The conversation is the durable, ordered record of messages, tool calls,
    and shared state. It is mutated only by applying canonical events, which
    makes replaying a recorded stream reproduce the exact same snapshot.

 3. Sessions
    A session is the ephemeral state of one in-flight turn. Cancelling a
    session aborts the transport, freezes partial content in place, and
    fails tool calls still short of completion.

 4. Tool Execution
    Tools registered with the client run locally when the backend requests
    them. Execution is guarded by duplicate suppression and, for tools that
    require it, an approval gate the user resolves through Approve or
    Reject.

# Usage

	client, err := weft.New(ctx, agui.New(), adapter.Config{Endpoint: url},
	    weft.WithTools(weather),
	    weft.WithMiddleware(middleware.Logging(nil)),
	)
	if err != nil {
	    return err
	}

	session, err := client.SendTurn(ctx, "What's the weather in Paris?")
	if err != nil {
	    return err
	}
	<-session.Done()

	snapshot := client.Snapshot()
*/
package weft
