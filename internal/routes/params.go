package routes

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ntentasd/nostradamus-history/pkg/types"
)

// timeRestriction reads the optional from, after and to parameters.
func timeRestriction(q url.Values) (types.TimeRestriction, error) {
	var tr types.TimeRestriction

	if v := q.Get("from"); v != "" {
		from, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tr, fmt.Errorf("invalid from: %q", v)
		}
		tr = tr.WithFrom(from)
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tr, fmt.Errorf("invalid after: %q", v)
		}
		tr = tr.WithAfter(after)
	}
	if v := q.Get("to"); v != "" {
		to, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tr, fmt.Errorf("invalid to: %q", v)
		}
		tr = tr.WithTo(to)
	}
	return tr, nil
}

// positiveInt reads key, falling back to def if it is absent.
func positiveInt(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}
