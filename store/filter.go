package store

import (
	"encoding/json"
	"reflect"

	sq "github.com/Masterminds/squirrel"
)

// Compose chains queries left to right. Nil queries are skipped.
func Compose(queries ...Query) Query {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		for _, q := range queries {
			b = q.apply(b)
		}
		return b
	}
}

// Search matches rows where any of columns contains value, case-insensitively.
// An empty value or column list leaves the query unchanged.
func Search(columns []string, value string) Query {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if value == "" || len(columns) == 0 {
			return b
		}
		pattern := "%" + value + "%"
		or := make(sq.Or, 0, len(columns))
		for _, c := range columns {
			or = append(or, sq.ILike{c: pattern})
		}
		return b.Where(or)
	}
}

// Filter matches rows whose columns equal the given values. Zero values (nil, "", 0,
// false) are ignored so unset form fields do not narrow the result. A non-empty table
// qualifies the columns.
func Filter(values map[string]any, table string) Query {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		eq := sq.Eq{}
		for c, v := range values {
			if isZero(v) {
				continue
			}
			if table != "" {
				c = table + "." + c
			}
			eq[c] = v
		}
		if len(eq) == 0 {
			return b
		}
		return b.Where(eq)
	}
}

// Period matches rows whose column lies in [from, to]. A non-positive bound is open.
func Period(column string, from, to int64) Query {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if column == "" {
			return b
		}
		if from > 0 {
			b = b.Where(sq.GtOrEq{column: from})
		}
		if to > 0 {
			b = b.Where(sq.LtOrEq{column: to})
		}
		return b
	}
}

// InArray matches rows whose JSON array column contains value.
func InArray(column string, value any) Query {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if column == "" || value == nil {
			return b
		}
		arr, err := json.Marshal([]any{value})
		if err != nil {
			return b.Where(sq.Expr("1 = 0"))
		}
		return b.Where(sq.Expr(column+"::jsonb @> ?::jsonb", string(arr)))
	}
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
