// Package vector defines the Weaviate collections that hold article vectors.
package vector

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Named vectors carried by every article object.
const (
	TitleVector    = "title_vector"
	AbstractVector = "abstract_vector"
	AuthorsVector  = "authors_vector"
)

// VectorFields lists the named vectors in search order.
var VectorFields = []string{TitleVector, AbstractVector, AuthorsVector}

// Object property names.
const (
	PropTitle          = "title_text"
	PropAbstract       = "abstract_text"
	PropAuthors        = "authors_text"
	PropURL            = "article_url"
	PropSpecialization = "specialization"
)

// DistanceMetric is squared euclidean distance, the L2 metric the relevance
// threshold is calibrated against.
const DistanceMetric = "l2-squared"

// SchemaClient is the subset of the Weaviate schema API the collections need.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ClassName maps a collection name such as merged_specializations to the
// Weaviate class MergedSpecializations.
func ClassName(collection string) string {
	var b strings.Builder
	upper := true
	for _, r := range collection {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name != "" && unicode.IsDigit(rune(name[0])) {
		name = "C" + name
	}
	return name
}

func properties(withCategory bool) []*models.Property {
	props := []*models.Property{
		{Name: PropTitle, DataType: []string{"text"}},
		{Name: PropAbstract, DataType: []string{"text"}},
		{Name: PropAuthors, DataType: []string{"text"}},
		// exact-match filters on url need the whole value as one token
		{Name: PropURL, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
	}
	if withCategory {
		props = append(props, &models.Property{Name: PropSpecialization, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField})
	}
	return props
}

func vectorConfig() map[string]models.VectorConfig {
	cfg := make(map[string]models.VectorConfig, len(VectorFields))
	for _, field := range VectorFields {
		cfg[field] = models.VectorConfig{
			Vectorizer:      map[string]interface{}{"none": map[string]interface{}{}},
			VectorIndexType: "hnsw",
			VectorIndexConfig: map[string]interface{}{
				"distance": DistanceMetric,
			},
		}
	}
	return cfg
}

// EnsureCollection creates the class for collection when missing and adds
// any property an older version of the class lacks. withCategory adds the
// specialization property used by the merged collection.
func EnsureCollection(ctx context.Context, client SchemaClient, collection string, withCategory bool) error {
	className := ClassName(collection)
	if className == "" {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}

	props := properties(withCategory)
	if !exists {
		class := &models.Class{
			Class:        className,
			Description:  fmt.Sprintf("Article vectors for %s", collection),
			Properties:   props,
			VectorConfig: vectorConfig(),
		}
		if err := client.CreateClass(ctx, class); err != nil {
			return fmt.Errorf("create class %s: %w", className, err)
		}
		return nil
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return fmt.Errorf("get class %s: %w", className, err)
	}
	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range props {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, className, p); err != nil {
			return fmt.Errorf("add property %s.%s: %w", className, p.Name, err)
		}
	}
	return nil
}

// SchemaAdapter implements SchemaClient over the Weaviate REST client.
type SchemaAdapter struct {
	client *weaviate.Client
}

func NewSchemaAdapter(client *weaviate.Client) *SchemaAdapter {
	return &SchemaAdapter{client: client}
}

func (a *SchemaAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *SchemaAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *SchemaAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *SchemaAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
