package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DynamoHashKey is the partition key attribute of the lock table.
const DynamoHashKey = "lock_key"

// DynamoAPI is the subset of the DynamoDB client used by DynamoLocker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type lockItem struct {
	LockKey   string `dynamodbav:"lock_key"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoLocker implements Locker with conditional writes on a DynamoDB table.
// An item whose expires_at has passed is treated as free.
type DynamoLocker struct {
	client       DynamoAPI
	table        string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewDynamoLocker(client DynamoAPI, table string, ttl time.Duration, logger *zap.Logger) *DynamoLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DynamoLocker{
		client:       client,
		table:        table,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		logger:       logger,
		now:          time.Now,
	}
}

func (d *DynamoLocker) Lock(ctx context.Context, key string) (func(), error) {
	owner := uuid.NewString()

	for {
		acquired, err := d.tryAcquire(ctx, key, owner)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, err
		}
		if acquired {
			break
		}
		if err := waitOrCancel(ctx, d.pollInterval); err != nil {
			return nil, errors.Join(ErrNotAcquired, err)
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           sdkaws.String(d.table),
			Key:                 map[string]types.AttributeValue{DynamoHashKey: &types.AttributeValueMemberS{Value: key}},
			ConditionExpression: sdkaws.String("#owner = :owner"),
			ExpressionAttributeNames: map[string]string{
				"#owner": "owner",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: owner},
			},
		})
		if err != nil {
			d.logger.Warn("Failed to release dynamodb lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (d *DynamoLocker) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	now := d.now()
	item, err := attributevalue.MarshalMap(lockItem{
		LockKey:   key,
		Owner:     owner,
		ExpiresAt: now.Add(d.ttl).UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal lock item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           sdkaws.String(d.table),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(#key) OR #exp < :now"),
		ExpressionAttributeNames: map[string]string{
			"#key": DynamoHashKey,
			"#exp": "expires_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb lock %s: %w", key, err)
	}
	return true, nil
}
