package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// formatQuery prefixes cypher with a CYPHER parameter clause when params is
// non-empty, the graph module's own parameterization syntax
// ("CYPHER a=1 b='x' MATCH ..."). Keys are sorted so identical params always
// produce the same literal command, which keeps logs and tests deterministic.
func formatQuery(cypher string, params map[string]any) string {
	if len(params) == 0 {
		return cypher
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatParamValue(params[k]))
		b.WriteByte(' ')
	}
	b.WriteString(cypher)
	return b.String()
}

func formatParamValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case nil:
		return "null"
	default:
		return strconv.Quote(fmt.Sprintf("%v", val))
	}
}
