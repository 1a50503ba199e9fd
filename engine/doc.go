/*
Package engine executes locally registered tools on behalf of a conversation.

When an inbound turn surfaces a tool call whose name matches a registered
definition, the engine dispatches the handler and converts its outcome into
synthetic result or error events so the conversation sees local execution
the same way it sees backend-resolved calls.

The engine also owns two cross-cutting behaviors:

  - Duplicate suppression. Backends occasionally re-emit the same call, and
    reconnects can replay one. Calls whose name and normalized arguments match
    a recently executed call are suppressed inside a configurable window.

  - Approval gating. Tools marked RequiresApproval, and permission requests
    surfaced by the backend, park on a gate until the user approves or
    rejects. A rejected call fails without the handler ever running.
*/
package engine
