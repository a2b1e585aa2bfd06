package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/internal/config"
	"medrag/internal/middleware"
	"medrag/internal/testutils"
	"medrag/internal/worker"
)

func TestTopicRouting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	appCfg := s.GetAppConfig()
	nsqCfg := nsq.NewConfig()

	received := make(chan *nsq.Message, 1)
	consumer, err := nsq.NewConsumer(config.TopicIngestSource, "test-ch-ingest", nsqCfg)
	require.NoError(t, err)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		received <- m
		return nil
	}))
	defer consumer.Stop()

	ctx := middleware.WithCorrelationID(context.Background(), "route-1")
	require.NoError(t, worker.PublishIngest(ctx, s.NSQ, "Gut"))
	require.NoError(t, consumer.ConnectToNSQD(appCfg.NSQDHost))

	select {
	case m := <-received:
		var p worker.IngestSourcePayload
		require.NoError(t, json.Unmarshal(m.Body, &p))
		assert.Equal(t, "Gut", p.Source)
		assert.Equal(t, "route-1", p.CorrelationID)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for ingest.source message")
	}
}
