package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"medrag/internal/vector"
)

// Store reads and writes article vector objects. Collections are addressed
// by their logical name and mapped to class names internally.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func byURL(url string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{vector.PropURL}).
		WithOperator(filters.Equal).
		WithValueText(url)
}

func properties(obj vector.Object) map[string]interface{} {
	props := map[string]interface{}{
		vector.PropTitle:    obj.Title,
		vector.PropAbstract: obj.Abstract,
		vector.PropAuthors:  obj.Authors,
		vector.PropURL:      obj.URL,
	}
	if obj.Specialization != "" {
		props[vector.PropSpecialization] = obj.Specialization
	}
	return props
}

func namedVectors(obj vector.Object) models.Vectors {
	out := make(models.Vectors, len(obj.Vectors))
	for name, v := range obj.Vectors {
		out[name] = v
	}
	return out
}

// Insert appends an object without checking for an existing one.
func (s *Store) Insert(ctx context.Context, collection string, obj vector.Object) error {
	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName(collection)).
		WithProperties(properties(obj)).
		WithVectors(namedVectors(obj)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("insert %s into %s: %w", obj.URL, collection, err)
	}
	return nil
}

// Upsert removes every object carrying the url and writes the object under
// its deterministic id. Repeating it after a partial failure converges to
// one object.
func (s *Store) Upsert(ctx context.Context, collection string, obj vector.Object) error {
	if err := s.DeleteByURL(ctx, collection, obj.URL); err != nil {
		return err
	}
	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName(collection)).
		WithID(vector.ObjectID(obj.URL)).
		WithProperties(properties(obj)).
		WithVectors(namedVectors(obj)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s into %s: %w", obj.URL, collection, err)
	}
	return nil
}

func (s *Store) DeleteByURL(ctx context.Context, collection, url string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName(collection)).
		WithOutput("minimal").
		WithWhere(byURL(url)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", url, collection, err)
	}
	return nil
}

// Search returns the k objects nearest to vec on the named vector field,
// closest first.
func (s *Store) Search(ctx context.Context, collection string, vec []float32, field string, k int) ([]vector.Hit, error) {
	className := vector.ClassName(collection)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithTargetVectors(field)

	fields := []graphql.Field{
		{Name: vector.PropTitle},
		{Name: vector.PropAbstract},
		{Name: vector.PropAuthors},
		{Name: vector.PropURL},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search %s on %s: %w", collection, field, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", graphQLMessages(res.Errors))
	}

	hits := parseHits(res.Data, className, field)
	vector.SortByDistance(hits)
	return hits, nil
}

func (s *Store) CountByURL(ctx context.Context, collection, url string) (int, error) {
	return s.count(ctx, collection, byURL(url))
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	return s.count(ctx, collection, nil)
}

func (s *Store) count(ctx context.Context, collection string, where *filters.WhereBuilder) (int, error) {
	className := vector.ClassName(collection)
	agg := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where != nil {
		agg = agg.WithWhere(where)
	}
	res, err := agg.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", graphQLMessages(res.Errors))
	}
	return parseCount(res.Data, className), nil
}

func graphQLMessages(errs []*models.GraphQLError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			out = append(out, e.Message)
		}
	}
	return out
}

func parseHits(data map[string]models.JSONObject, className, field string) []vector.Hit {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil
	}
	hits := make([]vector.Hit, 0, len(objects))
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		h := vector.Hit{Field: field}
		h.Title, _ = props[vector.PropTitle].(string)
		h.Abstract, _ = props[vector.PropAbstract].(string)
		h.Authors, _ = props[vector.PropAuthors].(string)
		h.URL, _ = props[vector.PropURL].(string)
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			h.Distance = toFloat(additional["distance"])
		}
		hits = append(hits, h)
	}
	return hits
}

func parseCount(data map[string]models.JSONObject, className string) int {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	groups, ok := agg[className].([]interface{})
	if !ok || len(groups) == 0 {
		return 0
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	return int(toFloat(meta["count"]))
}

// toFloat accepts both encodings Weaviate uses for numeric additionals.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
