package proposal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-conform/internal/change"
)

// chatServer answers every completion with content and records the last request body
func chatServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, seen))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(content))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return NewClient(Config{APIKey: "test-key", BaseURL: url, Model: "test-model"}, nil)
}

var addendum = Document{Name: "Addendum1.pdf", Pages: []string{"Replace sheet A-101.", "A-101 FLOOR PLAN"}}

func TestProposeChanges(t *testing.T) {
	content := "```json\n" + `{
		"changeInstructions": [
			{"id": 1, "change_type": "PAGE_REPLACE", "source_original_document": "drawings",
			 "addendum_name": "Addendum1.pdf", "source_page": 2, "target_page_number": null,
			 "semantic_search_query": "A-101"},
			{"id": 2, "change_type": "PAGE_MOVE", "source_original_document": "drawings"},
			{"id": 3, "change_type": "TEXT_REPLACE", "source_original_document": "specs",
			 "exact_text_to_find": "galvanized", "new_text_to_insert": "stainless", "status": "APPROVED"}
		],
		"questionsAndAnswers": [{"question": "Bid date?", "answer": "Unchanged."}]
	}` + "\n```"
	var seen map[string]any
	srv := chatServer(t, http.StatusOK, content, &seen)

	got, err := newTestClient(srv.URL).ProposeChanges(context.Background(), Request{Addenda: []Document{addendum}})
	require.NoError(t, err)

	require.Len(t, got.ChangeInstructions, 2)
	assert.Equal(t, change.PageReplace, got.ChangeInstructions[0].ChangeType)
	assert.Equal(t, change.StatusPending, got.ChangeInstructions[0].Status)
	assert.Nil(t, got.ChangeInstructions[0].TargetPageNumber)
	assert.Equal(t, change.StatusApproved, got.ChangeInstructions[1].Status)

	require.Len(t, got.Quarantined, 1)
	assert.Equal(t, 1, got.Quarantined[0].Index)
	require.Len(t, got.QuestionsAndAnswers, 1)

	assert.Equal(t, "test-model", seen["model"])
	msgs := seen["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "ADDENDUM: Addendum1.pdf (2 pages)")
	assert.Contains(t, user, "--- page 2 ---\nA-101 FLOOR PLAN")
}

func TestProposeChanges_ErrorsSurfaceVerbatim(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota"}}`, nil)

	_, err := newTestClient(srv.URL).ProposeChanges(context.Background(), Request{Addenda: []Document{addendum}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "You exceeded your current quota")
}

func TestProposeChanges_BadAnswer(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"changeInstructions": {"id": 1}}`, nil)
	_, err := newTestClient(srv.URL).ProposeChanges(context.Background(), Request{Addenda: []Document{addendum}})
	assert.Error(t, err)

	_, err = newTestClient(srv.URL).ProposeChanges(context.Background(), Request{})
	assert.Error(t, err)
}

func TestVerifyConsistency(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
		reason  string
	}{
		{name: "inconsistent", content: `{"isConsistent": false, "reasoning": "Door 101 differs"}`, want: false, reason: "Door 101 differs"},
		{name: "consistent", content: `{"isConsistent": true, "reasoning": "ok"}`, want: true, reason: "ok"},
		{name: "not json defaults to consistent", content: "I am not sure.", want: true},
		{name: "missing flag defaults to consistent", content: `{"reasoning": "hmm"}`, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content, nil)
			got, err := newTestClient(srv.URL).VerifyConsistency(context.Background(), []Document{addendum}, "Is A-101 consistent?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.IsConsistent)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, got.Reasoning)
			}
		})
	}
}

func TestVerifyConsistency_TransportError(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "upstream down", nil)
	_, err := newTestClient(srv.URL).VerifyConsistency(context.Background(), nil, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRenderDocumentTruncates(t *testing.T) {
	var b strings.Builder
	renderDocument(&b, "DOC", Document{Name: "x.pdf", Pages: []string{strings.Repeat("a", 50), strings.Repeat("b", 50)}}, 80)
	out := b.String()
	assert.Contains(t, out, strings.Repeat("a", 50))
	assert.NotContains(t, out, "bbbb")
	assert.Contains(t, out, "[truncated]")
}
