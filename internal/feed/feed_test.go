package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Gut Online First</title>
    <item><title>Microbiome and IBD</title><link>https://gut.example.org/content/1</link></item>
    <item><title>Relative</title><link>/content/2</link></item>
    <item><title>Guid only</title><guid>https://gut.example.org/content/3</guid></item>
    <item><title>Opaque guid</title><guid isPermaLink="false">tag:123</guid></item>
  </channel>
</rss>`

const rdfFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">
  <channel rdf:about="https://thorax.example.org/rss">
    <title>Thorax</title>
    <items>
      <rdf:Seq>
        <rdf:li rdf:resource="https://thorax.example.org/content/a"/>
        <rdf:li rdf:resource="https://thorax.example.org/content/b"/>
      </rdf:Seq>
    </items>
  </channel>
  <item rdf:about="https://thorax.example.org/content/a">
    <title>Asthma outcomes</title>
    <link>https://thorax.example.org/content/a</link>
  </item>
  <item rdf:about="https://thorax.example.org/content/c">
    <title>Only in items</title>
  </item>
</rdf:RDF>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Heart</title>
  <entry>
    <id>urn:uuid:1</id>
    <title>Heart failure</title>
    <link rel="self" href="https://heart.example.org/api/1"/>
    <link rel="alternate" href="https://heart.example.org/content/1"/>
  </entry>
  <entry>
    <id>https://heart.example.org/content/2</id>
    <title>No link</title>
  </entry>
</feed>`

func TestParse_RSS(t *testing.T) {
	f, err := Parse([]byte(rssFeed), "https://gut.example.org/rss/current.xml")
	require.NoError(t, err)

	assert.Equal(t, "Gut Online First", f.Title)
	assert.Equal(t, []string{
		"https://gut.example.org/content/1",
		"https://gut.example.org/content/2",
		"https://gut.example.org/content/3",
	}, f.Links())
}

func TestParse_RDF(t *testing.T) {
	f, err := Parse([]byte(rdfFeed), "")
	require.NoError(t, err)

	assert.Equal(t, "Thorax", f.Title)
	assert.Equal(t, []string{
		"https://thorax.example.org/content/a",
		"https://thorax.example.org/content/b",
		"https://thorax.example.org/content/c",
	}, f.Links())
	assert.Equal(t, "Asthma outcomes", f.Entries[0].Title)
}

func TestParse_Atom(t *testing.T) {
	f, err := Parse([]byte(atomFeed), "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://heart.example.org/content/1",
		"https://heart.example.org/content/2",
	}, f.Links())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "   "},
		{"html", "<html><body>not a feed</body></html>"},
		{"garbage", "not xml at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "")
			assert.Error(t, err)
		})
	}
}

func TestParse_UnknownFormatSentinel(t *testing.T) {
	_, err := Parse([]byte("<html></html>"), "")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
