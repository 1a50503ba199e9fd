package engine

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentweft/weft/pkg/jsonx"
	"github.com/agentweft/weft/pkg/slogx"
)

// normalizeArguments unwraps top-level string values that themselves contain
// JSON documents. Some backends double-encode structured arguments, so a
// value like "{\"location\":\"Paris\"}" becomes the object it encodes. Values
// that merely look like JSON but do not parse are left alone, and any
// rewrite failure falls back to the raw document.
func normalizeArguments(arguments string, log *slog.Logger) string {
	doc := gjson.Parse(arguments)
	if !doc.IsObject() {
		return arguments
	}

	out := arguments
	doc.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			return true
		}
		inner := strings.TrimSpace(value.String())
		if !strings.HasPrefix(inner, "{") && !strings.HasPrefix(inner, "[") {
			return true
		}
		if !gjson.Valid(inner) {
			return true
		}
		rewritten, err := sjson.SetRaw(out, key.String(), inner)
		if err != nil {
			log.Warn("normalizing tool arguments", slog.String("key", key.String()), slogx.Error(err))
			return true
		}
		out = rewritten
		return true
	})
	return out
}

// signature identifies a call for duplicate suppression. Key order does not
// matter: two argument documents with the same content hash to the same
// signature.
func signature(name, arguments string) string {
	return name + "\x00" + jsonx.CanonicalString(arguments)
}
