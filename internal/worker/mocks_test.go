package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"medrag/internal/config"
	"medrag/internal/embedsync"
	"medrag/internal/ingest"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockSourcePass struct{ mock.Mock }

func (m *MockSourcePass) RunSource(ctx context.Context, src config.Source) (ingest.Report, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(ingest.Report), args.Error(1)
}

type MockCategorySync struct{ mock.Mock }

func (m *MockCategorySync) SyncCategory(ctx context.Context, category string) (embedsync.Result, error) {
	args := m.Called(ctx, category)
	return args.Get(0).(embedsync.Result), args.Error(1)
}

func testCatalog() *config.Catalog {
	return &config.Catalog{Sources: []config.Source{
		{Name: "Gut", Category: "gastroenterology", FeedURL: "https://gut.example.org/rss", Extractor: "citation", Fetcher: "http"},
		{Name: "Old", Category: "gastroenterology", FeedURL: "https://old.example.org/rss", Disabled: true},
	}}
}
