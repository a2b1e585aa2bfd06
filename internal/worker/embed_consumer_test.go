package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"medrag/internal/article"
	"medrag/internal/embedsync"
	"medrag/internal/worker"
)

func embedMessage(category string) *nsq.Message {
	body, _ := json.Marshal(worker.EmbedCategoryPayload{Category: category, CorrelationID: "c"})
	return &nsq.Message{Body: body}
}

func TestEmbedConsumer_HandleMessage(t *testing.T) {
	s := new(MockCategorySync)
	s.On("SyncCategory", mock.Anything, "cardiology").Return(embedsync.Result{Category: "cardiology", Scanned: 3, Embedded: 3}, nil)

	err := worker.NewEmbedConsumer(s).HandleMessage(embedMessage("cardiology"))

	assert.NoError(t, err)
	s.AssertExpectations(t)
}

func TestEmbedConsumer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"transient error requeues", errors.New("connection reset"), true},
		{"invalid category is dropped", fmt.Errorf("list pending: %w", article.ErrInvalidCategory), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(MockCategorySync)
			s.On("SyncCategory", mock.Anything, "cardiology").Return(embedsync.Result{}, tt.err)

			err := worker.NewEmbedConsumer(s).HandleMessage(embedMessage("cardiology"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmbedConsumer_PoisonPill(t *testing.T) {
	s := new(MockCategorySync)
	c := worker.NewEmbedConsumer(s)

	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{}))
	assert.NoError(t, c.HandleMessage(embedMessage("  ")))
	s.AssertNotCalled(t, "SyncCategory", mock.Anything, mock.Anything)
}

func TestEmbedConsumer_UsesBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()

	s := new(MockCategorySync)
	s.On("SyncCategory", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() != nil
	}), "cardiology").Return(embedsync.Result{}, context.Canceled)

	c := worker.NewEmbedConsumer(s)
	c.SetBaseContext(base)

	assert.ErrorIs(t, c.HandleMessage(embedMessage("cardiology")), context.Canceled)
	s.AssertExpectations(t)
}
