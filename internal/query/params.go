package query

import (
	"strconv"
	"strings"

	"chariot/internal/model"
)

const defaultLimit = 5000

// FromParams translates flat search parameters (the CLI's key/label/offset
// vocabulary) into a graph Query. It returns (nil, false) when the search
// cannot be expressed as a graph query (unknown kind, no key) and the
// caller must fall back to the legacy flat search path.
//
// A '#'-prefixed term is a key search: STARTS WITH by default, or an exact
// match when params["exact"] is set. Anything else is "field:value"
// shorthand (e.g. "source:nuclei") and always uses STARTS WITH, with the
// kind taken from params["label"].
func FromParams(params map[string]string) (*Query, bool) {
	term, ok := params["key"]
	if !ok || term == "" {
		return nil, false
	}

	var (
		field Field
		value string
		kind  model.Kind
		op    Operator
	)

	if strings.HasPrefix(term, "#") {
		if !IsGraphKind(term) {
			return nil, false
		}
		field = FieldKey
		value = term
		kind = model.KindOfKey(term)
		if params["exact"] == "true" {
			op = Equal
		} else {
			op = StartsWith
		}
	} else {
		name, rest, found := strings.Cut(term, ":")
		if !found {
			return nil, false
		}
		field = Field(name)
		value = rest
		kind = model.Kind(params["label"])
		if kind == "" {
			return nil, false
		}
		op = StartsWith
	}

	label, ok := kindToLabel[kind]
	if !ok {
		return nil, false
	}

	page := 0
	if off := params["offset"]; off != "" {
		if n, err := strconv.Atoi(off); err == nil {
			page = n
		}
	}

	return &Query{
		Node: &Node{
			Labels:  []NodeLabel{label},
			Filters: []Filter{NewFilter(field, op, value)},
		},
		Page:   page,
		Limit:  defaultLimit,
		Global: params["global"] == "true",
	}, true
}
