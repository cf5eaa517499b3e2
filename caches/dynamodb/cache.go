package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

// batchLimit is the maximum number of requests DynamoDB accepts in one BatchWriteItem.
const batchLimit = 25

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config defines the configuration options for the DynamoDB store implementation.
type Config struct {
	DeleteExpiredItems bool // Controls if the expired_at TTL property is written to allow automatic deletion of stale items

	ItemExpiration time.Duration // How long an item stays in the table when DeleteExpiredItems is set. Independent of the entry's own expiry.
	Table          string
}

// Store implements reviewcache.Store using Amazon DynamoDB as the storage backend.
type Store struct {
	client API

	table         string
	expiration    time.Duration
	deleteExpired bool
	now           func() time.Time
}

var _ reviewcache.Store = (*Store)(nil)

type storeItem struct {
	Key       string `dynamodbav:"key"`
	Value     []byte `dynamodbav:"value"`
	CreatedAt int64  `dynamodbav:"created_at"`
	ExpiredAt int64  `dynamodbav:"expired_at,omitempty"`
}

// GetItem retrieves the raw value stored under k.
func (s *Store) GetItem(ctx context.Context, k string) ([]byte, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			"key": key,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(s.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item storeItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	return item.Value, nil
}

// SetItem stores v under k, replacing any previous value.
func (s *Store) SetItem(ctx context.Context, k string, v []byte) error {
	createdAt := s.now()

	i := storeItem{
		Key:       k,
		Value:     v,
		CreatedAt: createdAt.Unix(),
	}
	if s.deleteExpired {
		i.ExpiredAt = createdAt.Add(s.expiration).Unix()
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return err
}

func (s *Store) RemoveItem(ctx context.Context, k string) error {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"key": key,
		},
	})
	return err
}

// MultiRemove deletes keys in batches of 25, resubmitting unprocessed requests.
func (s *Store) MultiRemove(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += batchLimit {
		end := min(start+batchLimit, len(keys))

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"key": &types.AttributeValueMemberS{Value: k},
					},
				},
			})
		}

		pending := map[string][]types.WriteRequest{s.table: reqs}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == 3 {
				return fmt.Errorf("dynamodb: %d delete requests left unprocessed", len(pending[s.table]))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// GetAllKeys scans the table for every stored key.
func (s *Store) GetAllKeys(ctx context.Context) ([]string, error) {
	var keys []string

	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		var items []storeItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			keys = append(keys, it.Key)
		}
	}

	return keys, nil
}

// New creates a new DynamoDB store instance with the provided configuration.
// It validates the configuration and sets default values where appropriate.
// Returns an error if the client is nil or if the configuration is invalid.
func New(_ context.Context, client API, config *Config) (*Store, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}
	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "table name required",
		}
	}

	itemExpiration := config.ItemExpiration
	if itemExpiration == 0 {
		itemExpiration = caches.DefaultExpiredDuration
	}

	return &Store{
		client: client,

		table:         config.Table,
		expiration:    itemExpiration,
		deleteExpired: config.DeleteExpiredItems,
		now:           time.Now,
	}, nil
}
