package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/document"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/opensearch"
)

func TestMetadataRoundTrip(t *testing.T) {
	view := menu.MenuItemView{
		ID: 12, Name: "Iced Mocha", Description: "cold coffee", ImageURL: "u",
		Price: 120, IsVeg: true, IsBestseller: true, IsAvailable: true,
		CategoryID: 12, Tags: []string{"cold", "sweet"},
	}

	got := ViewFromMetadata("12", Metadata(view))
	assert.Equal(t, view, got)
}

func TestViewFromMetadata_TolerantDecoding(t *testing.T) {
	meta := map[string]interface{}{
		"name":        "Wings",
		"price":       json.Number("199.5"),
		"category_id": "7",
		"is_veg":      "false",
		"tags":        []interface{}{"hot", 3, "spicy"},
	}

	got := ViewFromMetadata("44", meta)
	assert.Equal(t, int64(44), got.ID)
	assert.Equal(t, 199.5, got.Price)
	assert.Equal(t, 7, got.CategoryID)
	assert.False(t, got.IsVeg)
	assert.Equal(t, []string{"hot", "spicy"}, got.Tags)
}

func TestMemory_QueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, []Record{
		{ID: "1", Vector: []float32{1, 0}, Item: menu.MenuItemView{ID: 1, Name: "Iced Mocha"}},
		{ID: "2", Vector: []float32{0, 1}, Item: menu.MenuItemView{ID: 2, Name: "Spicy Wings"}},
		{ID: "3", Vector: []float32{0.7, 0.7}, Item: menu.MenuItemView{ID: 3, Name: "Lassi"}},
		{ID: "4", Vector: []float32{1, 0, 0}, Item: menu.MenuItemView{ID: 4}},
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "3", hits[1].ID)

	_, err = idx.Query(ctx, nil, 2)
	require.Error(t, err)
}

func TestMemory_ExistingDeleteList(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, []Record{{ID: "1", Vector: []float32{1}}, {ID: "2", Vector: []float32{1}}}))

	found, err := idx.Existing(ctx, []string{"1", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true}, found)

	require.NoError(t, idx.Delete(ctx, []string{"1"}))
	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
	assert.Equal(t, 1, idx.Len())

	require.Error(t, idx.Upsert(ctx, []Record{{Vector: []float32{1}}}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}

type fakeS3Vectors struct {
	put      []*s3vectors.PutVectorsInput
	queryOut *s3vectors.QueryVectorsOutput
	queryErr error
	getKeys  []string
	deleted  []string
	pages    []*s3vectors.ListVectorsOutput
	listCall int
}

func (f *fakeS3Vectors) PutVectors(_ context.Context, in *s3vectors.PutVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error) {
	f.put = append(f.put, in)
	return &s3vectors.PutVectorsOutput{}, nil
}

func (f *fakeS3Vectors) QueryVectors(_ context.Context, _ *s3vectors.QueryVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error) {
	return f.queryOut, f.queryErr
}

func (f *fakeS3Vectors) GetVectors(_ context.Context, in *s3vectors.GetVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.GetVectorsOutput, error) {
	out := &s3vectors.GetVectorsOutput{}
	for _, k := range in.Keys {
		for _, have := range f.getKeys {
			if k == have {
				out.Vectors = append(out.Vectors, types.GetOutputVector{Key: aws.String(k)})
			}
		}
	}
	return out, nil
}

func (f *fakeS3Vectors) DeleteVectors(_ context.Context, in *s3vectors.DeleteVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.DeleteVectorsOutput, error) {
	f.deleted = append(f.deleted, in.Keys...)
	return &s3vectors.DeleteVectorsOutput{}, nil
}

func (f *fakeS3Vectors) ListVectors(_ context.Context, _ *s3vectors.ListVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error) {
	out := f.pages[f.listCall]
	f.listCall++
	return out, nil
}

func newFakeS3Index(fake *fakeS3Vectors) *S3Vectors {
	return newS3VectorsWithClient(fake, S3VectorsConfig{VectorBucketName: "b", IndexName: "menu-items"}, zerolog.Nop())
}

func TestS3Vectors_QueryConvertsDistance(t *testing.T) {
	fake := &fakeS3Vectors{queryOut: &s3vectors.QueryVectorsOutput{
		Vectors: []types.QueryOutputVector{{
			Key:      aws.String("12"),
			Distance: aws.Float32(0.25),
			Metadata: document.NewLazyDocument(map[string]interface{}{
				"name":  "Iced Mocha",
				"price": 120.0,
				"tags":  []interface{}{"cold", "sweet"},
			}),
		}},
	}}

	hits, err := newFakeS3Index(fake).Query(context.Background(), []float32{1, 0}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-6)
	assert.Equal(t, int64(12), hits[0].Item.ID)
	assert.Equal(t, "Iced Mocha", hits[0].Item.Name)
	assert.Equal(t, 120.0, hits[0].Item.Price)
	assert.Equal(t, []string{"cold", "sweet"}, hits[0].Item.Tags)
}

func TestDecodeMetadata(t *testing.T) {
	meta, err := decodeMetadata(document.NewLazyDocument(map[string]interface{}{
		"id":          int64(12),
		"name":        "Iced Mocha",
		"price":       120.5,
		"is_veg":      true,
		"category_id": 12,
		"tags":        []string{"cold", "sweet"},
	}))
	require.NoError(t, err)

	view := ViewFromMetadata("ignored", meta)
	assert.Equal(t, int64(12), view.ID)
	assert.Equal(t, "Iced Mocha", view.Name)
	assert.Equal(t, 120.5, view.Price)
	assert.True(t, view.IsVeg)
	assert.Equal(t, 12, view.CategoryID)
	assert.Equal(t, []string{"cold", "sweet"}, view.Tags)

	empty, err := decodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestS3Vectors_QueryError(t *testing.T) {
	fake := &fakeS3Vectors{queryErr: errors.New("throttled")}
	_, err := newFakeS3Index(fake).Query(context.Background(), []float32{1}, 20)
	require.Error(t, err)
}

func TestS3Vectors_UpsertExistingDeleteList(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3Vectors{
		getKeys: []string{"1"},
		pages: []*s3vectors.ListVectorsOutput{
			{Vectors: []types.ListOutputVector{{Key: aws.String("1")}}, NextToken: aws.String("next")},
			{Vectors: []types.ListOutputVector{{Key: aws.String("2")}}},
		},
	}
	idx := newFakeS3Index(fake)

	require.NoError(t, idx.Upsert(ctx, []Record{{ID: "1", Vector: []float32{1, 0}, Item: menu.MenuItemView{ID: 1}}}))
	require.Len(t, fake.put, 1)
	assert.Equal(t, "menu-items", aws.ToString(fake.put[0].IndexName))
	require.Len(t, fake.put[0].Vectors, 1)
	assert.Equal(t, "1", aws.ToString(fake.put[0].Vectors[0].Key))

	require.Error(t, idx.Upsert(ctx, []Record{{ID: "2"}}))

	found, err := idx.Existing(ctx, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true}, found)

	require.NoError(t, idx.Delete(ctx, []string{"9"}))
	assert.Equal(t, []string{"9"}, fake.deleted)

	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

type fakeOpenSearch struct {
	results []opensearch.VectorSearchResult
	indexed []opensearch.Document
}

func (f *fakeOpenSearch) SearchKNN(context.Context, string, []float32, int) ([]opensearch.VectorSearchResult, error) {
	return f.results, nil
}

func (f *fakeOpenSearch) BulkIndex(_ context.Context, _ string, docs []opensearch.Document) error {
	f.indexed = append(f.indexed, docs...)
	return nil
}

func (f *fakeOpenSearch) BulkDelete(context.Context, string, []string) error { return nil }

func (f *fakeOpenSearch) ExistingIDs(_ context.Context, _ string, ids []string) (map[string]bool, error) {
	return map[string]bool{ids[0]: true}, nil
}

func (f *fakeOpenSearch) ListIDs(context.Context, string) ([]string, error) { return []string{"1"}, nil }

func TestOpenSearch_QueryAndUpsert(t *testing.T) {
	fake := &fakeOpenSearch{results: []opensearch.VectorSearchResult{
		{ID: "3", Score: 0.9, Source: json.RawMessage(`{"id":3,"name":"Lassi","price":80,"tags":["cold"]}`)},
		{ID: "4", Score: 0.5, Source: json.RawMessage(`not json`)},
	}}
	idx := NewOpenSearch(fake, "menu-items", zerolog.Nop())

	hits, err := idx.Query(context.Background(), []float32{1}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.8, hits[0].Score, 1e-9)
	assert.Equal(t, "Lassi", hits[0].Item.Name)
	assert.Equal(t, 80.0, hits[0].Item.Price)
	assert.Equal(t, int64(4), hits[1].Item.ID)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-9)

	require.NoError(t, idx.Upsert(context.Background(), []Record{{ID: "3", Vector: []float32{1}, Item: menu.MenuItemView{ID: 3, Name: "Lassi"}}}))
	require.Len(t, fake.indexed, 1)
	assert.Equal(t, "Lassi", fake.indexed[0].Body["name"])
}
