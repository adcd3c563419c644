package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// reducePageSignal is the substring the backend puts in a 413 body when the
// requested page exceeded the response-size limit. Exact substring match is
// part of the interface contract.
const reducePageSignal = "reduce page size"

// AllPages makes the pager follow the offset cursor until the backend stops
// returning one.
const AllPages = 10000

// My runs a legacy flat-parameter search against GET /my, following the
// server's offset cursor for up to pages page-advances. The merged result
// carries a top-level "offset" iff more data remains.
func (c *Client) My(ctx context.Context, params map[string]string, pages int) (map[string]any, error) {
	final := map[string]any{}
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}

	var resp map[string]any
	for i := 0; i < pages; i++ {
		data, err := c.do(ctx, http.MethodGet, "/my", p, nil)
		if err != nil {
			return nil, err
		}
		resp = map[string]any{}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		extend(final, resp)
		off, ok := resp["offset"]
		if !ok {
			break
		}
		encoded, err := json.Marshal(off)
		if err != nil {
			return nil, err
		}
		p["offset"] = string(encoded)
	}

	// the final offset reflects the last response only
	if off, ok := resp["offset"]; ok {
		final["offset"] = off
	} else {
		delete(final, "offset")
	}
	return final, nil
}

// MyByQuery executes a raw graph query against POST /my across up to pages
// page-advances, transparently recovering from server page-size overload.
//
// On a 413 carrying the reduce-page-size signal the pager halves the limit,
// doubles the page index (same logical cursor under the smaller page size),
// doubles the remaining page budget (each page now carries half the data),
// and retries the same logical page. There is no retry cap beyond the limit
// bottoming out at 1.
func (c *Client) MyByQuery(ctx context.Context, raw map[string]any, params map[string]string, pages int) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw["page"]; !ok {
		raw["page"] = 0
	}
	if _, ok := raw["limit"]; !ok {
		raw["limit"] = c.PageLimit
	}

	final := map[string]any{}
	var resp map[string]any

	for pages > 0 {
		data, err := c.do(ctx, http.MethodPost, "/my", params, raw)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) &&
				statusErr.StatusCode == http.StatusRequestEntityTooLarge &&
				strings.Contains(statusErr.Body, reducePageSignal) &&
				asInt(raw["limit"]) > 1 {
				raw["limit"] = asInt(raw["limit"]) / 2
				raw["page"] = asInt(raw["page"]) * 2
				pages *= 2
				if c.debug {
					log.Printf("[Pager] Server overloaded, retrying with limit=%v page=%v", raw["limit"], raw["page"])
				}
				continue
			}
			return nil, err
		}

		resp = map[string]any{}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode query response: %w", err)
		}
		extend(final, resp)

		off, ok := resp["offset"]
		if !ok {
			break
		}
		raw["page"] = asInt(off)
		pages--
	}

	if resp != nil {
		if off, ok := resp["offset"]; ok {
			final["offset"] = off
		} else {
			delete(final, "offset")
		}
	}
	return final, nil
}

// extend merges a page into the accumulator: list values concatenate,
// map values merge recursively with the same rule, scalars are ignored.
func extend(accumulate, page map[string]any) map[string]any {
	for key, value := range page {
		switch v := value.(type) {
		case []any:
			if existing, ok := accumulate[key].([]any); ok {
				accumulate[key] = append(existing, v...)
			} else {
				accumulate[key] = v
			}
		case map[string]any:
			existing, ok := accumulate[key].(map[string]any)
			if !ok {
				existing = map[string]any{}
				accumulate[key] = existing
			}
			extend(existing, v)
		}
	}
	return accumulate
}

// Flatten collapses the accumulator's nested dict-of-lists structure into
// one flat list of result records. Map keys only group; they carry no
// meaning for callers.
func Flatten(results any) []any {
	if list, ok := results.([]any); ok {
		return list
	}
	var flattened []any
	if m, ok := results.(map[string]any); ok {
		for _, v := range m {
			flattened = append(flattened, Flatten(v)...)
		}
	}
	return flattened
}

// asInt normalizes JSON numbers (float64 after Unmarshal) and native ints.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
