package config

const (
	// TopicIngestSource carries one ingestion pass request for a named source.
	TopicIngestSource = "ingest.source"

	// TopicEmbedCategory carries one embedding sync request for a category.
	TopicEmbedCategory = "embed.category"
)

// Topics lists every topic the service publishes to.
var Topics = []string{TopicIngestSource, TopicEmbedCategory}
