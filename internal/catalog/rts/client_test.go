package rts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stavmatch/boq-matching-service/internal/catalog"
	"github.com/stavmatch/boq-matching-service/internal/domain"
)

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/price-items", r.URL.Path)
		assert.Equal(t, "zdivo porotherm 30", r.URL.Query().Get("query"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"count": 1,
				"rows": [
					{"item_code": "311-23-811", "item_name": "Zdivo nosné Porotherm 30", "unit_label": "m2", "unit_price": 1890.5, "long_text": "Zdivo nosné z cihel Porotherm 30 Profi"}
				]
			}
		}`))
	}))
	defer server.Close()

	client := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Enabled: true,
	})

	result, err := client.Search(context.Background(), catalog.SearchParams{
		Query: "zdivo porotherm 30",
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 1, result.TotalResults)
	assert.Equal(t, catalog.SourceRTS, result.Source)

	c := result.Candidates[0]
	assert.Equal(t, "311-23-811", c.Code)
	assert.Equal(t, "Zdivo nosné Porotherm 30", c.Name)
	assert.Equal(t, "m2", c.Unit)
	require.NotNil(t, c.Price)
	assert.Equal(t, 1890.5, *c.Price)
	assert.Equal(t, catalog.SourceRTS, c.Source)
}

func TestClient_SearchEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"count": 0, "rows": []}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key", Enabled: true})

	result, err := client.Search(context.Background(), catalog.SearchParams{Query: "nic"})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestClient_SearchAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "expired", Enabled: true})

	_, err := client.Search(context.Background(), catalog.SearchParams{Query: "x"})
	require.Error(t, err)

	var apiErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, catalog.SourceRTS, apiErr.Source)
}

func TestClient_IsEnabled(t *testing.T) {
	assert.True(t, New(Config{Enabled: true, APIKey: "key"}).IsEnabled())
	assert.False(t, New(Config{Enabled: true}).IsEnabled())
}
