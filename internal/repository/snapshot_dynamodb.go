package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// dynamodbAPI is the minimal DynamoDB surface the snapshot store needs.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type dynamoSnapshotStore struct {
	api       dynamodbAPI
	tableName string
	retention time.Duration
}

// NewDynamoSnapshotStore stores snapshots in a single table keyed by
// PK=SNAP#<channel number> and SK=USER#<user>. With a retention set, items
// carry a ttl attribute for DynamoDB expiry.
func NewDynamoSnapshotStore(api dynamodbAPI, tableName string, retention time.Duration) (SnapshotStore, error) {
	if api == nil {
		return nil, errors.New("repository: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &dynamoSnapshotStore{api: api, tableName: tableName, retention: retention}, nil
}

func snapshotPK(channelNumberID string) string { return "SNAP#" + channelNumberID }
func snapshotSK(userID string) string          { return "USER#" + userID }

func (s *dynamoSnapshotStore) Get(ctx context.Context, channelNumberID, userID string) (*domain.DialogueSnapshot, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: snapshotPK(channelNumberID)},
			"SK": &types.AttributeValueMemberS{Value: snapshotSK(userID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: get snapshot: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrSnapshotNotFound
	}

	doc, err := strAttr(out.Item, "document")
	if err != nil {
		return nil, fmt.Errorf("repository: decode snapshot: %w", err)
	}
	snap := &domain.DialogueSnapshot{
		ChannelNumberID: channelNumberID,
		UserID:          userID,
		Document:        []byte(doc),
	}
	if v, err := strAttr(out.Item, "createdAt"); err == nil {
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, err := strAttr(out.Item, "updatedAt"); err == nil {
		snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return snap, nil
}

func (s *dynamoSnapshotStore) Upsert(ctx context.Context, snap *domain.DialogueSnapshot) error {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: snapshotPK(snap.ChannelNumberID)},
		"SK":        &types.AttributeValueMemberS{Value: snapshotSK(snap.UserID)},
		"document":  &types.AttributeValueMemberS{Value: string(snap.Document)},
		"createdAt": &types.AttributeValueMemberS{Value: snap.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updatedAt": &types.AttributeValueMemberS{Value: snap.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}
	if s.retention > 0 {
		expiry := snap.UpdatedAt.Add(s.retention).Unix()
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)}
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: put snapshot: %w", err)
	}
	return nil
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
