package logsink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	putErr       error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	puts         []*dynamodb.PutItemInput
	queryInputs  []*dynamodb.QueryInput
	queryPageIdx int
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryPageIdx >= len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryPages[f.queryPageIdx]
	f.queryPageIdx++
	return out, nil
}

func lineItem(sk, line string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: "LOG#relay"},
		"SK":   &types.AttributeValueMemberS{Value: sk},
		"line": &types.AttributeValueMemberS{Value: line},
	}
}

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoDB {
	t.Helper()
	d, err := NewDynamoDB(db, "relay-logs", "relay")
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 500, time.UTC) }
	d.newID = func() string { return "id-1" }
	return d
}

func TestNewDynamoDB_Validation(t *testing.T) {
	_, err := NewDynamoDB(nil, "t", "p")
	require.ErrorContains(t, err, "must not be nil")

	_, err = NewDynamoDB(&fakeDynamo{}, " ", "p")
	require.ErrorContains(t, err, "table name must not be empty")

	_, err = NewDynamoDB(&fakeDynamo{}, "t", " ")
	require.ErrorContains(t, err, "partition must not be empty")
}

func TestDynamoDB_Record_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDynamo(t, db)

	require.NoError(t, d.Record(context.Background(), "User Input: 안녕"))
	require.Len(t, db.puts, 1)
	in := db.puts[0]
	require.Equal(t, "relay-logs", *in.TableName)
	require.Equal(t, "LOG#relay", in.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "LINE#2026-03-01T09:00:00.000000500Z#id-1", in.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "User Input: 안녕", in.Item["line"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *in.ConditionExpression)
}

func TestDynamoDB_Record_Error(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	d := mustNewDynamo(t, db)
	err := d.Record(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Record")
}

func TestDynamoDB_ReadAll_FollowsPagination(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{lineItem("LINE#1", "first"), lineItem("LINE#2", "second")},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "LOG#relay"}, "SK": &types.AttributeValueMemberS{Value: "LINE#2"}},
		},
		{
			Items: []map[string]types.AttributeValue{lineItem("LINE#3", "third")},
		},
	}}
	d := mustNewDynamo(t, db)

	got, err := d.ReadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, got.Lines)
	require.False(t, got.IsRaw)

	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.Equal(t, "LINE#2", db.queryInputs[1].ExclusiveStartKey["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
}

func TestDynamoDB_ReadAll_Empty(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{})
	got, err := d.ReadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, got.Lines)
	require.NotNil(t, got.Lines)
}

func TestDynamoDB_ReadAll_QueryError(t *testing.T) {
	d := mustNewDynamo(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := d.ReadAll(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReadAll")
}

func TestDynamoDB_ReadAll_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: "LOG#relay"},
		"SK":   &types.AttributeValueMemberS{Value: "LINE#1"},
		"line": &types.AttributeValueMemberN{Value: "7"},
	}
	d := mustNewDynamo(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err := d.ReadAll(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a string")
}

func TestLineSK_OrdersLexicallyByTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := lineSK(base, "z")
	for i := 1; i <= 5; i++ {
		next := lineSK(base.Add(time.Duration(i)*50*time.Millisecond), "a")
		require.Less(t, prev, next, fmt.Sprintf("step %d", i))
		prev = next
	}
}

func TestLogPK(t *testing.T) {
	require.Equal(t, "LOG#relay", logPK("relay"))
}
