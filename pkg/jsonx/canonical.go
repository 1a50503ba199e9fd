package jsonx

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Canonical renders a parsed JSON value in a canonical form: object keys are
// emitted in sorted order at every nesting level, arrays keep their order and
// scalars keep their raw representation. Two JSON documents that differ only
// in key order or whitespace produce identical canonical strings.
func Canonical(v gjson.Result) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

// CanonicalString parses the input and renders it canonically. Input that is
// not valid JSON is returned unchanged.
func CanonicalString(raw string) string {
	if !gjson.Valid(raw) {
		return raw
	}
	return Canonical(gjson.Parse(raw))
}

func writeCanonical(sb *strings.Builder, v gjson.Result) {
	switch {
	case v.IsObject():
		keys := make([]string, 0, 8)
		members := make(map[string]gjson.Result, 8)
		v.ForEach(func(key, value gjson.Result) bool {
			keys = append(keys, key.String())
			members[key.String()] = value
			return true
		})
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeCanonical(sb, members[k])
		}
		sb.WriteByte('}')
	case v.IsArray():
		sb.WriteByte('[')
		for i, item := range v.Array() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(v.Raw)
	}
}
