package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"medrag/internal/settings"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

var envDefaults = settings.Settings{
	GeminiAPIKey:       "env-key",
	LLMProvider:        "gemini",
	RelevanceThreshold: 1.0,
	SearchTopK:         2,
	ContextTopK:        2,
}

func TestService_Get_FillsBlanksFromDefaults(t *testing.T) {
	mockRepo := new(MockRepository)
	mockRepo.On("Get", mock.Anything).Return(&settings.Settings{LLMProvider: "openai", LLMAPIKey: "db-key", SearchTopK: 5}, nil)

	s, err := settings.NewService(mockRepo, envDefaults).Get(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "env-key", s.GeminiAPIKey)
	assert.Equal(t, "openai", s.LLMProvider)
	assert.Equal(t, "db-key", s.LLMAPIKey)
	assert.Equal(t, 1.0, s.RelevanceThreshold)
	assert.Equal(t, 5, s.SearchTopK)
	assert.Equal(t, 2, s.ContextTopK)
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, envDefaults))

		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{LLMProvider: "gemini", RelevanceThreshold: 0.5}, nil)

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()
		handler.GetSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		json.NewDecoder(w.Body).Decode(&body)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "gemini", data["llm_provider"])
		assert.Equal(t, 0.5, data["relevance_threshold"])
		mockRepo.AssertExpectations(t)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, envDefaults))
		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()
		handler.GetSettings(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo, envDefaults))

		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.LLMProvider == "openai" && s.RelevanceThreshold == 0.7
		})).Return(nil)

		body, _ := json.Marshal(settings.Settings{LLMProvider: " OpenAI ", RelevanceThreshold: 0.7, SearchTopK: 2, ContextTopK: 2})
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockRepo.AssertExpectations(t)
	})

	tests := []struct {
		name string
		body string
	}{
		{"Malformed JSON", "invalid json"},
		{"Unknown provider", `{"llm_provider":"cohere","relevance_threshold":1,"search_top_k":2,"context_top_k":2}`},
		{"Zero threshold", `{"llm_provider":"gemini","relevance_threshold":0,"search_top_k":2,"context_top_k":2}`},
		{"Zero top k", `{"llm_provider":"gemini","relevance_threshold":1,"search_top_k":0,"context_top_k":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			handler := settings.NewHandler(settings.NewService(mockRepo, envDefaults))

			req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			handler.UpdateSettings(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var body map[string]interface{}
			json.NewDecoder(w.Body).Decode(&body)
			assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
			mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
		})
	}
}
