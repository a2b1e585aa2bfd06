package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectID_Deterministic(t *testing.T) {
	a := ObjectID("https://gut.bmj.com/content/2")
	assert.Equal(t, a, ObjectID("https://gut.bmj.com/content/2"))
	assert.NotEqual(t, a, ObjectID("https://gut.bmj.com/content/3"))
	assert.Len(t, a, 36)
}

func TestSortByDistance(t *testing.T) {
	hits := []Hit{{URL: "a", Distance: 0.9}, {URL: "b", Distance: 0.2}, {URL: "c", Distance: 0.9}, {URL: "d", Distance: 0.5}}
	SortByDistance(hits)
	var urls []string
	for _, h := range hits {
		urls = append(urls, h.URL)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, urls)
}
