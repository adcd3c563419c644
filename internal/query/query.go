// Package query builds the nested graph-query structure consumed by the
// Chariot /my endpoint. Queries are trees of Nodes joined by Relationships,
// with Filters at each node. Construction never validates label/field
// compatibility; invalid combinations surface server-side as empty results.
package query

import "chariot/internal/model"

// Operator is a filter comparison operator.
type Operator string

const (
	Equal           Operator = "="
	LessThan        Operator = "<"
	LessThanOrEq    Operator = "<="
	GreaterThan     Operator = ">"
	GreaterThanOrEq Operator = ">="
	Contains        Operator = "CONTAINS"
	StartsWith      Operator = "STARTS WITH"
	EndsWith        Operator = "ENDS WITH"
	In              Operator = "IN"
	And             Operator = "AND"
	Or              Operator = "OR"
)

// Field is a filterable node property.
type Field string

const (
	FieldKey     Field = "key"
	FieldDNS     Field = "dns"
	FieldName    Field = "name"
	FieldStatus  Field = "status"
	FieldSource  Field = "source"
	FieldCreated Field = "created"
)

// NodeLabel is a graph node label.
type NodeLabel string

const (
	LabelAsset     NodeLabel = "Asset"
	LabelAttribute NodeLabel = "Attribute"
	LabelRisk      NodeLabel = "Risk"
	LabelSeed      NodeLabel = "Seed"
	LabelPreseed   NodeLabel = "Preseed"
	LabelADDomain  NodeLabel = "ADDomain"
	LabelTTL       NodeLabel = "TTL"
)

// RelLabel is a graph relationship label.
type RelLabel string

const (
	RelHasVulnerability RelLabel = "HAS_VULNERABILITY"
	RelDiscovered       RelLabel = "DISCOVERED"
	RelHasAttribute     RelLabel = "HAS_ATTRIBUTE"
	RelMemberOf         RelLabel = "MEMBER_OF"
	RelHasSession       RelLabel = "HAS_SESSION"
	RelAdminTo          RelLabel = "ADMIN_TO"
)

// Unbounded requests an unlimited-depth path for a Relationship. Used for
// transitive group membership and recursive attack-path traversal.
const Unbounded = -1

// Filter matches one field of a node. Multiple values are OR'd together;
// multiple Filters on one Node are AND'd. Filters are value objects: build
// one, never mutate it.
type Filter struct {
	Field    Field
	Operator Operator
	Values   []string
	Negate   bool
}

// NewFilter builds a single-value filter.
func NewFilter(field Field, op Operator, value string) Filter {
	return Filter{Field: field, Operator: op, Values: []string{value}}
}

// ToMap serializes the filter. A single value is emitted as a scalar, more
// than one as a list; the server treats the two shapes differently.
func (f Filter) ToMap() map[string]any {
	m := map[string]any{
		"field":    string(f.Field),
		"operator": string(f.Operator),
	}
	switch len(f.Values) {
	case 0:
	case 1:
		m["value"] = f.Values[0]
	default:
		m["value"] = f.Values
	}
	if f.Negate {
		m["not"] = true
	}
	return m
}

// Relationship is an edge constraint hanging off a Node. Exactly one of
// Source or Target is set; the other end is implicitly the parent node.
// Length 0 matches a single edge, a positive N a path of 1..N edges, and
// Unbounded a path of any depth.
type Relationship struct {
	Labels   []RelLabel
	Source   *Node
	Target   *Node
	Optional bool
	Length   int
}

// ToMap serializes the relationship. A single label serializes as a scalar
// string and multiple labels as a list (server-side OR across relationship
// types); callers must preserve this asymmetry for wire compatibility.
func (r Relationship) ToMap() map[string]any {
	m := map[string]any{}
	switch len(r.Labels) {
	case 0:
	case 1:
		m["label"] = string(r.Labels[0])
	default:
		labels := make([]string, len(r.Labels))
		for i, l := range r.Labels {
			labels[i] = string(l)
		}
		m["label"] = labels
	}
	if r.Source != nil {
		m["source"] = r.Source.ToMap()
	}
	if r.Target != nil {
		m["target"] = r.Target.ToMap()
	}
	if r.Optional {
		m["optional"] = true
	}
	if r.Length != 0 {
		m["length"] = r.Length
	}
	return m
}

// Node is one node pattern in the query tree.
type Node struct {
	Labels        []NodeLabel
	Filters       []Filter
	Relationships []Relationship
}

// ToMap serializes the node, omitting empty fields entirely. The server
// treats an absent key differently from an empty list, so a zero Node must
// serialize to {}.
func (n Node) ToMap() map[string]any {
	m := map[string]any{}
	if len(n.Labels) > 0 {
		labels := make([]string, len(n.Labels))
		for i, l := range n.Labels {
			labels[i] = string(l)
		}
		m["labels"] = labels
	}
	if len(n.Filters) > 0 {
		filters := make([]map[string]any, len(n.Filters))
		for i, f := range n.Filters {
			filters[i] = f.ToMap()
		}
		m["filters"] = filters
	}
	if len(n.Relationships) > 0 {
		rels := make([]map[string]any, len(n.Relationships))
		for i, r := range n.Relationships {
			rels[i] = r.ToMap()
		}
		m["relationships"] = rels
	}
	return m
}

// Query is a complete graph query: one root node plus pagination and
// ordering controls. Page and Limit are server-side pagination, not
// client-side slicing. Shortest asks the server to compute only the N
// shortest paths for attack-path queries.
type Query struct {
	Node       *Node
	Page       int
	Limit      int
	OrderBy    string
	Descending bool
	Global     bool
	Shortest   int
}

// ToMap serializes the query body, omitting zero-valued fields.
func (q Query) ToMap() map[string]any {
	m := map[string]any{}
	if q.Node != nil {
		m["node"] = q.Node.ToMap()
	}
	if q.Page != 0 {
		m["page"] = q.Page
	}
	if q.Limit != 0 {
		m["limit"] = q.Limit
	}
	if q.OrderBy != "" {
		m["orderBy"] = q.OrderBy
	}
	if q.Descending {
		m["descending"] = true
	}
	if q.Shortest != 0 {
		m["shortest"] = q.Shortest
	}
	return m
}

// Params returns the URL query parameters that accompany the body. Global
// scoping rides in the URL, not the body.
func (q Query) Params() map[string]string {
	params := map[string]string{}
	if q.Global {
		params["global"] = "true"
	}
	return params
}

// KeyEquals builds the filter list for an exact-key match.
func KeyEquals(key string) []Filter {
	return []Filter{NewFilter(FieldKey, Equal, key)}
}

// AssetOfKey builds an Asset node pinned to one key.
func AssetOfKey(key string) *Node {
	return &Node{Labels: []NodeLabel{LabelAsset}, Filters: KeyEquals(key)}
}

// RiskOfKey builds a Risk node pinned to one key.
func RiskOfKey(key string) *Node {
	return &Node{Labels: []NodeLabel{LabelRisk}, Filters: KeyEquals(key)}
}

// kindToLabel maps entity-key kinds to graph labels. Kinds missing here are
// not graph-searchable; queries against them return nothing, so callers fall
// back to the legacy flat search path.
var kindToLabel = map[model.Kind]NodeLabel{
	model.KindAsset:     LabelAsset,
	model.KindRisk:      LabelRisk,
	model.KindAttribute: LabelAttribute,
	model.KindSeed:      LabelSeed,
	model.KindPreseed:   LabelPreseed,
}

// IsGraphKind reports whether the key's kind maps to a known graph label.
func IsGraphKind(key string) bool {
	_, ok := kindToLabel[model.KindOfKey(key)]
	return ok
}
