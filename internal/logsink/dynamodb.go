package logsink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	pkPrefixLog = "LOG#"
	skPrefixLn  = "LINE#"
	// Fixed-width so sort keys order lexically by time.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDB stores log lines as items under a single partition, one item per
// line, sorted by write time.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	partition string
	now       func() time.Time
	newID     func() string
}

// NewDynamoDB creates a DynamoDB sink writing under LOG#<partition>.
func NewDynamoDB(api dynamodbAPI, tableName, partition string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("logsink: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("logsink: table name must not be empty")
	}
	partition = strings.TrimSpace(partition)
	if partition == "" {
		return nil, errors.New("logsink: partition must not be empty")
	}
	return &DynamoDB{
		api:       api,
		tableName: tableName,
		partition: partition,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// logPK returns the partition key shared by every line of a sink.
func logPK(partition string) string {
	return pkPrefixLog + partition
}

// lineSK returns a unique sort key for a line written at ts.
func lineSK(ts time.Time, id string) string {
	return skPrefixLn + ts.UTC().Format(skTimeLayout) + "#" + id
}

// Record writes one line. The conditional put never overwrites an existing
// item, so concurrent writers cannot clobber each other.
func (d *DynamoDB) Record(ctx context.Context, line string) error {
	now := d.now().UTC()
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: logPK(d.partition)},
			"SK":         &types.AttributeValueMemberS{Value: lineSK(now, d.newID())},
			"line":       &types.AttributeValueMemberS{Value: line},
			"recordedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("logsink: dynamodb Record: %w", err)
	}
	return nil
}

// ReadAll queries every line of the partition in chronological order,
// following pagination to the end.
func (d *DynamoDB) ReadAll(ctx context.Context) (Contents, error) {
	var (
		lines    = []string{}
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: logPK(d.partition)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixLn},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return Contents{}, fmt.Errorf("logsink: dynamodb ReadAll query: %w", err)
		}
		if out == nil {
			return LinesOf(lines), nil
		}
		for _, item := range out.Items {
			line, err := strAttr(item, "line")
			if err != nil {
				return Contents{}, fmt.Errorf("logsink: dynamodb ReadAll unmarshal: %w", err)
			}
			lines = append(lines, line)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return LinesOf(lines), nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
