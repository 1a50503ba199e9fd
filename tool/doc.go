/*
Package tool defines the handlers a client can register for local tool
execution. A tool is a named function the backend may request during a turn;
when the agent emits a tool call whose name matches a registered definition,
the execution engine invokes the handler with the parsed arguments and feeds
the result back into the conversation.

# Key Concepts

 1. Tool Definition
    A tool is defined by its handler and metadata:
    - Name: identifier the backend uses to address the tool
    - Description: human-readable explanation
    - Schema: JSON schema for the arguments, generated through reflection
    - RequiresApproval: gate execution behind an explicit user decision

 2. Argument Handling
    Handlers receive the raw argument document as a gjson.Result so they can
    pick out fields without committing to a struct, or unmarshal the whole
    document when a typed view is more convenient.

# Usage

	weather := tool.Must("get_weather",
		func(ctx context.Context, args gjson.Result) (any, error) {
			return lookup(ctx, args.Get("location").String())
		},
		tool.Description("Current weather for a location"),
		tool.Schema(tool.Params[weatherArgs]()),
	)
*/
package tool
