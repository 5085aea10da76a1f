package datastore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestElastic(t *testing.T, handler http.HandlerFunc) *ElasticDocs {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return NewElasticDocs(client, "")
}

func TestElasticDocs_InternalDocs(t *testing.T) {
	docs := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal_docs/_search", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var q struct {
			Query struct {
				MultiMatch struct {
					Query  string   `json:"query"`
					Fields []string `json:"fields"`
				} `json:"multi_match"`
			} `json:"query"`
		}
		assert.NoError(t, json.Unmarshal(body, &q))
		assert.Equal(t, "oncology strategy", q.Query.MultiMatch.Query)
		assert.Contains(t, q.Query.MultiMatch.Fields, "title^3")

		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"es-1","_source":{"title":"Oncology portfolio review","summary":"Q3","tags":["oncology"]}},
			{"_id":"es-2","_source":{"doc_id":"DOC-2","title":"Biosimilar strategy"}}
		]}}`))
	})

	out, err := docs.InternalDocs(context.Background(), Filter{Text: "oncology strategy"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "es-1", out[0].DocID, "hit id fills a missing doc_id")
	assert.Equal(t, "DOC-2", out[1].DocID)
	assert.Equal(t, []string{"oncology"}, out[0].Tags)
}

func TestElasticDocs_ErrorStatus(t *testing.T) {
	docs := newTestElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"index_not_found_exception"}`))
	})

	_, err := docs.InternalDocs(context.Background(), Filter{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
