// Package store persists thumbnail records in DynamoDB.
//
// The ledger is optional: the object store remains the system of record for
// both videos and thumbnails. A record is a convenient index of what was
// generated, when, and at what size.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// ThumbnailTTL is how long a ledger record lives before DynamoDB expires it.
const ThumbnailTTL = 30 * 24 * time.Hour

// skThumbnail is the sort key of the single record kept per source object.
const skThumbnail = "THUMB"

// ThumbnailRecord describes one generated thumbnail.
type ThumbnailRecord struct {
	Bucket       string    `json:"bucket" dynamodbav:"bucket"`
	SourceKey    string    `json:"sourceKey" dynamodbav:"sourceKey"`
	ThumbnailKey string    `json:"thumbnailKey" dynamodbav:"thumbnailKey"`
	ContentType  string    `json:"contentType" dynamodbav:"contentType"`
	Size         int64     `json:"size" dynamodbav:"size"`
	Width        int       `json:"width,omitempty" dynamodbav:"width,omitempty"`
	Height       int       `json:"height,omitempty" dynamodbav:"height,omitempty"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// DynamoAPI is the subset of *dynamodb.Client used by ThumbnailStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// ThumbnailStore reads and writes ThumbnailRecords in a DynamoDB table keyed
// by PK={bucket}/{sourceKey}, SK=THUMB, with an expiresAt TTL attribute.
type ThumbnailStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewThumbnailStore creates a ThumbnailStore for the given table.
func NewThumbnailStore(client DynamoAPI, tableName string) *ThumbnailStore {
	return &ThumbnailStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// TableName returns the backing table name.
func (s *ThumbnailStore) TableName() string {
	return s.tableName
}

func thumbnailPK(bucket, sourceKey string) string {
	return bucket + "/" + sourceKey
}

// PutThumbnail writes rec, replacing any earlier record for the same source
// object. Repeated finalize events therefore converge on the latest thumbnail.
func (s *ThumbnailStore) PutThumbnail(ctx context.Context, rec *ThumbnailRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	pk := thumbnailPK(rec.Bucket, rec.SourceKey)

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal thumbnail record: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skThumbnail}
	item["expiresAt"] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(rec.CreatedAt.Add(ThumbnailTTL).Unix(), 10),
	}

	start := time.Now()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem thumbnail PK=%s: %w", pk, err)
	}
	log.Debug().Str("pk", pk).Str("thumbnailKey", rec.ThumbnailKey).Dur("duration", time.Since(start)).Msg("Thumbnail record persisted")
	return nil
}

// GetThumbnail returns the record for a source object, or nil if none exists.
func (s *ThumbnailStore) GetThumbnail(ctx context.Context, bucket, sourceKey string) (*ThumbnailRecord, error) {
	pk := thumbnailPK(bucket, sourceKey)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skThumbnail},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem thumbnail PK=%s: %w", pk, err)
	}
	if len(result.Item) == 0 {
		return nil, nil
	}

	var rec ThumbnailRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal thumbnail record PK=%s: %w", pk, err)
	}
	return &rec, nil
}
