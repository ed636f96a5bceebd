package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/document"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
	"github.com/rs/zerolog"
)

// s3VectorsAPI is the subset of the S3 Vectors client used by the index.
type s3VectorsAPI interface {
	PutVectors(ctx context.Context, in *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error)
	QueryVectors(ctx context.Context, in *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error)
	GetVectors(ctx context.Context, in *s3vectors.GetVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.GetVectorsOutput, error)
	DeleteVectors(ctx context.Context, in *s3vectors.DeleteVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.DeleteVectorsOutput, error)
	ListVectors(ctx context.Context, in *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error)
}

// S3VectorsConfig holds the configuration for the S3 Vectors backend
type S3VectorsConfig struct {
	VectorBucketName string
	IndexName        string
	Region           string
}

// S3Vectors stores menu item vectors in an Amazon S3 Vectors index.
type S3Vectors struct {
	client           s3VectorsAPI
	vectorBucketName string
	indexName        string
	logger           zerolog.Logger
}

// NewS3Vectors creates the backend using the default AWS credential chain.
func NewS3Vectors(ctx context.Context, cfg S3VectorsConfig, logger zerolog.Logger) (*S3Vectors, error) {
	if cfg.VectorBucketName == "" {
		return nil, fmt.Errorf("vector bucket name is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newS3VectorsWithClient(s3vectors.NewFromConfig(awsConfig), cfg, logger), nil
}

func newS3VectorsWithClient(client s3VectorsAPI, cfg S3VectorsConfig, logger zerolog.Logger) *S3Vectors {
	return &S3Vectors{
		client:           client,
		vectorBucketName: cfg.VectorBucketName,
		indexName:        cfg.IndexName,
		logger:           logger.With().Str("component", "s3vectors").Logger(),
	}
}

// Query returns the topK nearest items. S3 Vectors reports cosine distance,
// which is converted to a similarity of 1 - distance.
func (s *S3Vectors) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	result, err := s.client.QueryVectors(ctx, &s3vectors.QueryVectorsInput{
		VectorBucketName: aws.String(s.vectorBucketName),
		IndexName:        aws.String(s.indexName),
		QueryVector:      &types.VectorDataMemberFloat32{Value: vector},
		TopK:             aws.Int32(int32(topK)),
		ReturnDistance:   true,
		ReturnMetadata:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(result.Vectors))
	for _, v := range result.Vectors {
		key := aws.ToString(v.Key)
		hit := Hit{ID: key}
		if v.Distance != nil {
			hit.Score = 1 - float64(*v.Distance)
		}

		meta, err := decodeMetadata(v.Metadata)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Int("fields", len(meta)).Msg("failed to decode vector metadata")
		}
		hit.Item = ViewFromMetadata(key, meta)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *S3Vectors) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	vectors := make([]types.PutInputVector, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("vector ID cannot be empty")
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("vector embedding cannot be empty for ID: %s", rec.ID)
		}
		vectors = append(vectors, types.PutInputVector{
			Key:      aws.String(rec.ID),
			Data:     &types.VectorDataMemberFloat32{Value: rec.Vector},
			Metadata: document.NewLazyDocument(Metadata(rec.Item)),
		})
	}

	_, err := s.client.PutVectors(ctx, &s3vectors.PutVectorsInput{
		VectorBucketName: aws.String(s.vectorBucketName),
		IndexName:        aws.String(s.indexName),
		Vectors:          vectors,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %d vectors to S3 Vectors: %w", len(vectors), err)
	}
	s.logger.Debug().Int("count", len(vectors)).Msg("stored vectors")
	return nil
}

func (s *S3Vectors) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	result, err := s.client.GetVectors(ctx, &s3vectors.GetVectorsInput{
		VectorBucketName: aws.String(s.vectorBucketName),
		IndexName:        aws.String(s.indexName),
		Keys:             ids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get vectors from S3 Vectors: %w", err)
	}
	for _, v := range result.Vectors {
		if v.Key != nil {
			found[*v.Key] = true
		}
	}
	return found, nil
}

func (s *S3Vectors) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.DeleteVectors(ctx, &s3vectors.DeleteVectorsInput{
		VectorBucketName: aws.String(s.vectorBucketName),
		IndexName:        aws.String(s.indexName),
		Keys:             ids,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d vectors from S3 Vectors: %w", len(ids), err)
	}
	return nil
}

// ListIDs pages through every key stored in the index.
func (s *S3Vectors) ListIDs(ctx context.Context) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		result, err := s.client.ListVectors(ctx, &s3vectors.ListVectorsInput{
			VectorBucketName: aws.String(s.vectorBucketName),
			IndexName:        aws.String(s.indexName),
			NextToken:        token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list vectors: %w", err)
		}
		for _, v := range result.Vectors {
			if v.Key != nil {
				keys = append(keys, *v.Key)
			}
		}
		if result.NextToken == nil || *result.NextToken == "" {
			return keys, nil
		}
		token = result.NextToken
	}
}

// decodeMetadata reads a vector's metadata document into a plain map. The
// document is rendered to JSON and decoded with json.Number so prices and ids
// keep their precision. When that fails the smithy decoder is tried, and
// whatever fields it managed to fill are kept alongside the error.
func decodeMetadata(doc document.Interface) (map[string]interface{}, error) {
	meta := map[string]interface{}{}
	if doc == nil {
		return meta, nil
	}

	raw, err := doc.MarshalSmithyDocument()
	if err == nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err = dec.Decode(&meta); err == nil {
			return meta, nil
		}
		meta = map[string]interface{}{}
	}

	if uerr := doc.UnmarshalSmithyDocument(&meta); uerr != nil {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		return meta, fmt.Errorf("decode metadata: %w", errors.Join(err, uerr))
	}
	return meta, nil
}
