package vector

import (
	"sort"

	"github.com/google/uuid"
)

// Object is one article's vector set as stored in a collection.
type Object struct {
	URL            string
	Title          string
	Abstract       string
	Authors        string
	Specialization string
	Vectors        map[string][]float32
}

// Hit is a nearest-neighbour match. Lower Distance is closer.
type Hit struct {
	URL            string  `json:"article_url"`
	Title          string  `json:"title_text"`
	Abstract       string  `json:"abstract_text"`
	Authors        string  `json:"authors_text"`
	Specialization string  `json:"specialization,omitempty"`
	Distance       float64 `json:"vector_distance"`
	Field          string  `json:"-"`
}

// ObjectID derives the object id from the article url so every write of the
// same article targets the same object.
func ObjectID(articleURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(articleURL)).String()
}

// SortByDistance orders hits ascending by distance, keeping the input order
// among equal distances.
func SortByDistance(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
}
