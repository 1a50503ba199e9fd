// Package broker implements the pub/sub fan-out behind conversation state
// mutation notifications. Every applied canonical event is published to the
// conversation's topic; rendering layers subscribe with an events.Hook.
//
// Two implementations exist: a local in-process broker for the common case,
// and a NATS-backed broker for embedding the library in multi-process
// frontends where another process renders the conversation.
//
// Topics provide isolated channels per conversation, subscriptions are
// managed explicitly with unique ids, and a slow subscriber is unsubscribed
// rather than allowed to stall the event loop.
package broker
