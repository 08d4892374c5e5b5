// Package query provides a small, storage-agnostic condition/order builder
// used by internal/database.Repository to express filtered lookups without
// every call site hand-writing GORM where-clauses.
package query

import "fmt"

// Option applies a modification to a Query. Callers compose options such
// as WithID, WithLimit and WithOrderAsc, or WithCondition directly.
type Option func(Query) Query

// Query holds conditions, ordering and pagination for a store lookup.
type Query struct {
	conditions []Condition
	orders     []Order
	limit      int
	offset     int
}

// Build assembles a Query from a set of options.
func Build(options ...Option) Query {
	q := Query{}
	for _, opt := range options {
		q = opt(q)
	}
	return q
}

// Conditions returns a copy of the query's conditions.
func (q Query) Conditions() []Condition {
	out := make([]Condition, len(q.conditions))
	copy(out, q.conditions)
	return out
}

// Orders returns a copy of the query's ordering specifications.
func (q Query) Orders() []Order {
	out := make([]Order, len(q.orders))
	copy(out, q.orders)
	return out
}

// LimitValue returns the result limit, or 0 for unlimited.
func (q Query) LimitValue() int { return q.limit }

// OffsetValue returns the result offset.
func (q Query) OffsetValue() int { return q.offset }

// Condition is a single equality or membership test.
type Condition struct {
	field string
	value any
	in    bool
}

// Field returns the condition's column name.
func (c Condition) Field() string { return c.field }

// Value returns the condition's comparison value.
func (c Condition) Value() any { return c.value }

// In reports whether this is a membership (IN) condition.
func (c Condition) In() bool { return c.in }

// String renders a readable form of the condition, useful in log lines.
func (c Condition) String() string {
	if c.in {
		return fmt.Sprintf("%s IN %v", c.field, c.value)
	}
	return fmt.Sprintf("%s = %v", c.field, c.value)
}

// Order is a single sort specification.
type Order struct {
	field     string
	ascending bool
}

// Field returns the order's column name.
func (o Order) Field() string { return o.field }

// Ascending reports whether the order is ascending.
func (o Order) Ascending() bool { return o.ascending }

// WithCondition adds a field = value equality condition.
func WithCondition(field string, value any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, value: value})
		return q
	}
}

// WithConditionIn adds a field IN (values) condition.
func WithConditionIn(field string, values any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, value: values, in: true})
		return q
	}
}

// WithID filters by the "id" column.
func WithID(id int64) Option { return WithCondition("id", id) }

// WithIDIn filters by the "id" column using IN.
func WithIDIn(ids []int64) Option { return WithConditionIn("id", ids) }

// WithLimit caps the number of results.
func WithLimit(n int) Option {
	return func(q Query) Query {
		q.limit = n
		return q
	}
}

// WithOffset skips the first n results.
func WithOffset(n int) Option {
	return func(q Query) Query {
		q.offset = n
		return q
	}
}

// WithOrderAsc adds ascending ordering on a field.
func WithOrderAsc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: true})
		return q
	}
}

// WithOrderDesc adds descending ordering on a field.
func WithOrderDesc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: false})
		return q
	}
}

// WithPagination returns limit and offset options for a page.
func WithPagination(limit, offset int) []Option {
	return []Option{WithLimit(limit), WithOffset(offset)}
}
