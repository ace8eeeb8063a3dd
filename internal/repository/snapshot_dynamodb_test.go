package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

type fakeDynamo struct {
	items        map[string]map[string]types.AttributeValue
	putErr       error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestNewDynamoSnapshotStore_Validates(t *testing.T) {
	_, err := NewDynamoSnapshotStore(nil, "t", 0)
	require.Error(t, err)
	_, err = NewDynamoSnapshotStore(newFakeDynamo(), "  ", 0)
	require.Error(t, err)
}

func TestDynamoSnapshotStore_RoundTrip(t *testing.T) {
	db := newFakeDynamo()
	store, err := NewDynamoSnapshotStore(db, "snapshots", 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "ch", "u")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, &domain.DialogueSnapshot{
		ChannelNumberID: "ch",
		UserID:          "u",
		Document:        []byte(`{"state":"products.menu.ready"}`),
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
	require.Equal(t, "SNAP#ch", db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "USER#u", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.NotContains(t, db.lastPutInput.Item, "ttl")

	got, err := store.Get(ctx, "ch", "u")
	require.NoError(t, err)
	require.Equal(t, `{"state":"products.menu.ready"}`, string(got.Document))
	require.True(t, now.Equal(got.CreatedAt))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestDynamoSnapshotStore_RetentionSetsTTL(t *testing.T) {
	db := newFakeDynamo()
	store, err := NewDynamoSnapshotStore(db, "snapshots", time.Hour)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.Upsert(context.Background(), &domain.DialogueSnapshot{
		ChannelNumberID: "ch", UserID: "u", Document: []byte(`{}`), CreatedAt: now, UpdatedAt: now,
	}))
	require.Equal(t, "1700003600", db.lastPutInput.Item["ttl"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoSnapshotStore_PutErrorWrapped(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("throttled")
	store, err := NewDynamoSnapshotStore(db, "snapshots", 0)
	require.NoError(t, err)

	err = store.Upsert(context.Background(), &domain.DialogueSnapshot{ChannelNumberID: "c", UserID: "u"})
	require.ErrorContains(t, err, "throttled")
}
