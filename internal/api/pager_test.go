package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chariot/internal/keychain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kc := &keychain.Keychain{
		Name: "test",
		Profile: keychain.Profile{
			API:          srv.URL,
			Username:     "tester@example.com",
			APIKeyID:     "id",
			APIKeySecret: "secret",
		},
	}
	return NewClient(kc, false)
}

type queryBody struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func TestMyByQueryHalvesOnOverload(t *testing.T) {
	var requests []queryBody
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)

		if body.Limit > 50 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			fmt.Fprint(w, `{"error":"please reduce page size and retry"}`)
			return
		}
		fmt.Fprintf(w, `{"assets":[{"key":"#asset#a%d"}]}`, body.Page)
	})

	result, err := client.MyByQuery(context.Background(),
		map[string]any{"page": 1, "limit": 100}, nil, 1)
	require.NoError(t, err)

	// 100 -> 413 -> retry at limit 50, page 2
	require.Len(t, requests, 2)
	assert.Equal(t, queryBody{Page: 1, Limit: 100}, requests[0])
	assert.Equal(t, queryBody{Page: 2, Limit: 50}, requests[1])

	hits := Flatten(result)
	require.Len(t, hits, 1)
	_, hasOffset := result["offset"]
	assert.False(t, hasOffset)
}

func TestMyByQueryDoublesPageBudgetOnOverload(t *testing.T) {
	var requests []queryBody
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)

		if body.Limit > 8 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			fmt.Fprint(w, `reduce page size`)
			return
		}
		// every page points at the next one, the budget is the only brake
		fmt.Fprintf(w, `{"assets":[{"key":"#asset#p%d"}],"offset":%d}`, body.Page, body.Page+1)
	})

	result, err := client.MyByQuery(context.Background(),
		map[string]any{"page": 0, "limit": 16}, nil, 1)
	require.NoError(t, err)

	// one 413 doubles the remaining budget to 2, so two pages are fetched
	require.Len(t, requests, 3)
	assert.Equal(t, queryBody{Page: 0, Limit: 16}, requests[0])
	assert.Equal(t, queryBody{Page: 0, Limit: 8}, requests[1])
	assert.Equal(t, queryBody{Page: 1, Limit: 8}, requests[2])

	assert.Len(t, Flatten(result), 2)
}

func TestMyByQueryOverloadAtLimitOneFails(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		fmt.Fprint(w, `reduce page size`)
	})

	_, err := client.MyByQuery(context.Background(),
		map[string]any{"limit": 2}, nil, 1)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusErr.StatusCode)
}

func TestMyByQuery413WithoutSignalIsFatal(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		fmt.Fprint(w, `entity too large`)
	})

	_, err := client.MyByQuery(context.Background(),
		map[string]any{"limit": 1024}, nil, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retry without the reduce-page-size signal")
}

func TestMyByQueryDefaults(t *testing.T) {
	var got queryBody
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{}`)
	})

	_, err := client.MyByQuery(context.Background(), nil, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Page)
	assert.Equal(t, defaultPageLimit, got.Limit)
}

func TestMyByQueryKeepsLastOffset(t *testing.T) {
	page := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		page++
		fmt.Fprintf(w, `{"assets":[{"key":"#asset#%d"}],"offset":%d}`, page, page)
	})

	result, err := client.MyByQuery(context.Background(),
		map[string]any{"limit": 10}, nil, 2)
	require.NoError(t, err)

	assert.Len(t, Flatten(result), 2)
	assert.Equal(t, float64(2), result["offset"])
}

func TestExtendMergeRules(t *testing.T) {
	acc := map[string]any{}
	extend(acc, map[string]any{"assets": []any{"a1"}, "count": float64(1)})
	extend(acc, map[string]any{"assets": []any{"a2"}, "count": float64(2)})

	assert.Equal(t, []any{"a1", "a2"}, acc["assets"])
	_, hasCount := acc["count"]
	assert.False(t, hasCount, "scalars are dropped by the merge")
}

func TestExtendRecursesIntoMaps(t *testing.T) {
	acc := map[string]any{}
	extend(acc, map[string]any{"grouped": map[string]any{"assets": []any{"a"}}})
	extend(acc, map[string]any{"grouped": map[string]any{"assets": []any{"b"}}})

	grouped := acc["grouped"].(map[string]any)
	assert.Equal(t, []any{"a", "b"}, grouped["assets"])
}

func TestFlatten(t *testing.T) {
	// lists come back as-is, without recursing into elements
	list := []any{"a", []any{"nested"}}
	assert.Equal(t, list, Flatten(list))

	nested := map[string]any{
		"assets": []any{"a1", "a2"},
	}
	assert.ElementsMatch(t, []any{"a1", "a2"}, Flatten(nested))

	deep := map[string]any{
		"grouped": map[string]any{"risks": []any{"r1"}},
	}
	assert.Equal(t, []any{"r1"}, Flatten(deep))

	assert.Empty(t, Flatten("scalar"))
	assert.Empty(t, Flatten(nil))
}

func TestMyLegacyFollowsOffsetCursor(t *testing.T) {
	var offsets []string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		if len(offsets) == 1 {
			fmt.Fprint(w, `{"agents":[{"client_id":"one"}],"offset":{"key":"next"}}`)
			return
		}
		fmt.Fprint(w, `{"agents":[{"client_id":"two"}]}`)
	})

	result, err := client.My(context.Background(), map[string]string{"key": "#aegis#"}, 5)
	require.NoError(t, err)

	require.Len(t, offsets, 2)
	assert.Equal(t, "", offsets[0])
	assert.JSONEq(t, `{"key":"next"}`, offsets[1])

	assert.Len(t, Flatten(result), 2)
	_, hasOffset := result["offset"]
	assert.False(t, hasOffset, "exhausted listing carries no offset")
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{StatusCode: 413, Body: "reduce page size"}
	assert.Equal(t, "[413] request failed: reduce page size", err.Error())
	assert.Equal(t, "[500] request failed", (&StatusError{StatusCode: 500}).Error())
}
