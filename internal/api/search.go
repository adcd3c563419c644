package api

import (
	"context"
	"encoding/json"

	"chariot/internal/query"
)

// SearchOptions tunes a term search.
type SearchOptions struct {
	Kind       string
	Offset     string
	Pages      int
	Exact      bool
	Descending bool
	Global     bool
}

// SearchByTerm searches for entities matching a term: either a '#'-prefixed
// key (prefix match, or exact when opts.Exact) or "field:value" shorthand.
// Graph-searchable kinds go through the graph query endpoint; everything
// else falls back to the legacy flat search. Returns the flattened hits and
// the next-page offset, "" when the listing is complete.
func (c *Client) SearchByTerm(ctx context.Context, term string, opts SearchOptions) ([]any, string, error) {
	pages := opts.Pages
	if pages <= 0 {
		pages = 1
	}

	params := map[string]string{"key": term}
	if opts.Kind != "" {
		params["label"] = opts.Kind
	}
	if opts.Offset != "" {
		params["offset"] = opts.Offset
	}
	if opts.Exact {
		params["exact"] = "true"
	}
	if opts.Descending {
		params["desc"] = "true"
	}
	if opts.Global {
		params["global"] = "true"
	}

	var (
		results map[string]any
		err     error
	)
	if q, ok := query.FromParams(params); ok {
		results, err = c.MyByQuery(ctx, q.ToMap(), q.Params(), pages)
	} else {
		results, err = c.My(ctx, params, pages)
	}
	if err != nil {
		return nil, "", err
	}

	offset := ""
	if off, ok := results["offset"]; ok {
		encoded, _ := json.Marshal(off)
		offset = string(encoded)
		delete(results, "offset")
	}

	return Flatten(results), offset, nil
}

// SearchByKeyPrefix lists entities whose key starts with the prefix.
func (c *Client) SearchByKeyPrefix(ctx context.Context, prefix string, pages int) ([]any, string, error) {
	return c.SearchByTerm(ctx, prefix, SearchOptions{Pages: pages})
}

// SearchByExactKey fetches the single entity with the given key, or nil.
func (c *Client) SearchByExactKey(ctx context.Context, key string) (map[string]any, error) {
	hits, _, err := c.SearchByTerm(ctx, key, SearchOptions{Exact: true})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	hit, _ := hits[0].(map[string]any)
	return hit, nil
}

// Count returns the backend's hit counts for a search term.
func (c *Client) Count(ctx context.Context, term string) (map[string]any, error) {
	var out map[string]any
	err := c.Get(ctx, "/my/count", map[string]string{"key": term}, &out)
	return out, err
}
