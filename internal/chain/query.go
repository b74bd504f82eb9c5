package chain

import "context"

// Query is the read-only side of the engine.
type Query struct {
	engine *Engine
}

// NewQuery returns read helpers over e.
func NewQuery(e *Engine) *Query {
	return &Query{engine: e}
}

// Get returns the active value of name. A never-written name and an unset
// name both yield nil.
func (q *Query) Get(ctx context.Context, name string) (*string, error) {
	rec, err := q.engine.Active(ctx, name)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Value, nil
}

// CountEqualTo passes through to the engine.
func (q *Query) CountEqualTo(ctx context.Context, value *string) (int, error) {
	return q.engine.CountEqualTo(ctx, value)
}
