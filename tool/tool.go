package tool

import (
	"context"
	"fmt"

	"github.com/fogfish/opts"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/agentweft/weft/pkg/stdx"
)

// Handler is the function invoked when the agent calls a registered tool.
// args holds the parsed argument document; the returned value is serialized
// to JSON and sent back to the backend as the tool result.
type Handler func(ctx context.Context, args gjson.Result) (any, error)

// Definition describes a locally executable tool. It includes the tool's
// name, description, argument schema, and the handler itself.
type Definition struct {
	Name             string
	Description      string
	Schema           *jsonschema.Schema
	RequiresApproval bool
	Handler          Handler
}

// Option is a type alias for a function that modifies the configuration
// of a tool definition.
type Option = opts.Option[Definition]

// Description sets the human-readable description of a tool.
var Description = opts.ForName[Definition, string]("Description")

// Schema sets the JSON schema for the tool's arguments.
var Schema = opts.ForName[Definition, *jsonschema.Schema]("Schema")

// RequiresApproval marks the tool as requiring an explicit user decision
// before the handler runs.
func RequiresApproval() Option {
	return opts.Type[Definition](func(d *Definition) error {
		d.RequiresApproval = true
		return nil
	})
}

var paramReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
}

// Params reflects a JSON schema from the argument struct type T. The schema
// version marker is stripped so the document embeds cleanly into tool
// listings.
func Params[T any]() *jsonschema.Schema {
	var zero T
	schema := paramReflector.Reflect(&zero)
	schema.Version = ""
	return schema
}

// EmptyParams returns the schema for a tool that takes no arguments.
func EmptyParams() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
}

// Must wraps New and panics when the definition is invalid.
func Must(name string, handler Handler, options ...Option) Definition {
	return stdx.Must1(New(name, handler, options...))
}

// New creates a tool definition from the provided name, handler, and options.
func New(name string, handler Handler, options ...Option) (Definition, error) {
	if name == "" {
		return Definition{}, fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return Definition{}, fmt.Errorf("tool %q has no handler", name)
	}

	def := Definition{Name: name, Handler: handler}
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if def.Schema == nil {
		def.Schema = EmptyParams()
	}
	return def, nil
}
