package graph

import "fmt"

// parseReply decodes a GRAPH.QUERY/GRAPH.RO_QUERY reply as returned by
// go-redis's generic Do(): a three-element array of [header, rows,
// statistics], or a single-element array of [statistics] for write queries
// with no RETURN clause. Header entries and row cells are taken as already
// the plain Go values go-redis decodes RESP scalars into (string, int64,
// float64, nil); node/edge/path values come back as nested []interface{}
// and are passed through unchanged — callers that need entity fields issue
// a RETURN of the specific properties instead of the whole node.
func parseReply(raw any) (*Result, error) {
	top, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply shape %T", raw)
	}
	switch len(top) {
	case 1:
		return &Result{}, nil
	case 3:
		header, ok := top[0].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected header shape %T", top[0])
		}
		rows, ok := top[1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected rows shape %T", top[1])
		}
		cols := make([]string, len(header))
		for i, h := range header {
			cols[i] = fmt.Sprintf("%v", h)
		}
		out := &Result{Columns: cols, Rows: make([]Row, 0, len(rows))}
		for _, r := range rows {
			cells, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("unexpected row shape %T", r)
			}
			row := make(Row, len(cols))
			for i, c := range cols {
				if i < len(cells) {
					row[c] = cells[i]
				}
			}
			out.Rows = append(out.Rows, row)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected reply arity %d", len(top))
	}
}
