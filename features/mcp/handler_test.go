package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medrag/internal/config"
	"medrag/internal/retrieval"
)

type MockEngine struct{ mock.Mock }

func (m *MockEngine) Answer(ctx context.Context, q string) (*retrieval.Answer, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Answer), args.Error(1)
}

type staticSources []config.Source

func (s staticSources) List(ctx context.Context) []config.Source { return s }

var testSources = staticSources{
	{Name: "Circulation", Category: "cardiology"},
	{Name: "Gut", Category: "gastroenterology", Disabled: true},
}

func call(t *testing.T, h *Handler, method string, params interface{}) *JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return h.processRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: raw, ID: 7})
}

func toolText(t *testing.T, resp *JSONRPCResponse) ToolResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	res, ok := resp.Result.(ToolResult)
	require.True(t, ok, "unexpected result type %T", resp.Result)
	require.Len(t, res.Content, 1)
	return res
}

func rpcErrorCode(t *testing.T, resp *JSONRPCResponse) int {
	t.Helper()
	require.NotNil(t, resp)
	e, ok := resp.Error.(map[string]interface{})
	require.True(t, ok)
	return e["code"].(int)
}

func TestProcessRequest_Lifecycle(t *testing.T) {
	h := NewHandler(new(MockEngine), testSources)

	initResp := call(t, h, "initialize", nil)
	require.NotNil(t, initResp)
	assert.Equal(t, 7, initResp.ID)
	info := initResp.Result.(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, "medrag-mcp", info["name"])

	assert.Nil(t, call(t, h, "notifications/initialized", nil))

	list := call(t, h, "tools/list", nil)
	names := []string{}
	for _, tool := range list.Result.(ListToolsResult).Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{ToolJournalQuery, ToolListSources}, names)

	assert.Equal(t, ErrMethodNotFound, rpcErrorCode(t, call(t, h, "resources/list", nil)))
}

func TestJournalQueryTool(t *testing.T) {
	tests := []struct {
		name     string
		answer   *retrieval.Answer
		err      error
		wantText string
		wantErr  bool
	}{
		{
			name:     "answer with context",
			answer:   &retrieval.Answer{Response: "Statins lower risk.", Context: `[{"title_text":"Statin trial"}]`},
			wantText: "Statins lower risk.\n\nSources:\n[{\"title_text\":\"Statin trial\"}]",
		},
		{
			name:     "nothing relevant",
			err:      retrieval.ErrNoRelevantArticles,
			wantText: "No relevant articles found.",
		},
		{
			name:     "engine failure",
			err:      errors.New("gemini quota"),
			wantText: "Error: gemini quota",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			engine.On("Answer", mock.Anything, "statins").Return(tt.answer, tt.err)
			h := NewHandler(engine, testSources)

			res := toolText(t, call(t, h, "tools/call", CallParams{
				Name:      ToolJournalQuery,
				Arguments: json.RawMessage(`{"query":"statins"}`),
			}))

			assert.Equal(t, tt.wantText, res.Content[0].Text)
			assert.Equal(t, tt.wantErr, res.IsError)
			engine.AssertExpectations(t)
		})
	}
}

func TestJournalQueryTool_RequiresQuery(t *testing.T) {
	engine := new(MockEngine)
	h := NewHandler(engine, testSources)

	resp := call(t, h, "tools/call", CallParams{Name: ToolJournalQuery, Arguments: json.RawMessage(`{"query":"  "}`)})

	assert.Equal(t, ErrInvalidParams, rpcErrorCode(t, resp))
	engine.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything)
}

func TestListSourcesTool(t *testing.T) {
	h := NewHandler(new(MockEngine), testSources)

	res := toolText(t, call(t, h, "tools/call", CallParams{Name: ToolListSources}))
	assert.JSONEq(t, `[
		{"name":"Circulation","category":"cardiology","enabled":true},
		{"name":"Gut","category":"gastroenterology","enabled":false}
	]`, res.Content[0].Text)

	res = toolText(t, call(t, h, "tools/call", CallParams{Name: ToolListSources, Arguments: json.RawMessage(`{"category":"Cardiology"}`)}))
	assert.Contains(t, res.Content[0].Text, "Circulation")
	assert.NotContains(t, res.Content[0].Text, "Gut")

	res = toolText(t, call(t, h, "tools/call", CallParams{Name: ToolListSources, Arguments: json.RawMessage(`{"category":"oncology"}`)}))
	assert.Equal(t, "No sources found.", res.Content[0].Text)
}

func TestUnknownTool(t *testing.T) {
	h := NewHandler(new(MockEngine), testSources)
	resp := call(t, h, "tools/call", CallParams{Name: "web_search"})
	assert.Equal(t, ErrMethodNotFound, rpcErrorCode(t, resp))
}

func TestServeHTTP(t *testing.T) {
	h := NewHandler(new(MockEngine), testSources)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":"a"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{},"id":"a"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{not json`)))
	assert.Contains(t, rec.Body.String(), `"code":-32700`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandleMessage_Validation(t *testing.T) {
	h := NewHandler(nil, nil)
	h.sessions["s1"] = make(chan string, 1)

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing session", "/mcp/messages", "{}", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown session", "/mcp/messages?sessionId=nope", "{}", http.StatusNotFound, "NOT_FOUND"},
		{"invalid json", "/mcp/messages?sessionId=s1", "{invalid", http.StatusBadRequest, "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, tt.target, bytes.NewBufferString(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp["error"].(map[string]interface{})["code"])
		})
	}
}

func TestSSESession_DeliversResponses(t *testing.T) {
	h := NewHandler(new(MockEngine), testSources)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/sse", h.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", h.HandleMessage)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp)

	endpoint := <-events
	require.Equal(t, "endpoint", endpoint.name)
	require.True(t, strings.HasPrefix(endpoint.data, srv.URL+"/mcp/messages?sessionId="))
	assert.Equal(t, "id", (<-events).name)

	post, err := http.Post(endpoint.data, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":3}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	select {
	case msg := <-events:
		assert.Equal(t, "message", msg.name)
		assert.Contains(t, msg.data, ToolJournalQuery)
		assert.Contains(t, msg.data, `"id":3`)
	case <-ctx.Done():
		t.Fatal("no message event received")
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvents(resp *http.Response) <-chan sseEvent {
	out := make(chan sseEvent, 8)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}
