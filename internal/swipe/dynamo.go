package swipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Single-table layout: every item is addressed by a string partition key "pk".
const (
	dynamoDecisionPrefix = "DECISION#"
	dynamoMatchPrefix    = "MATCH#"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type decisionItem struct {
	PK        string `dynamodbav:"pk"`
	Source    string `dynamodbav:"source_pet_id"`
	Target    string `dynamodbav:"target_pet_id"`
	Direction string `dynamodbav:"direction"`
	Ts        int64  `dynamodbav:"ts"`
}

type matchItem struct {
	PK        string `dynamodbav:"pk"`
	PetA      string `dynamodbav:"pet_a"`
	PetB      string `dynamodbav:"pet_b"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// DynamoStore keeps decisions and matches in one DynamoDB table whose hash
// key is the string attribute "pk".
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a Store over an existing table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// NewDynamoClient builds a DynamoDB client from the default AWS credential
// chain. A non-empty endpoint points it at DynamoDB Local.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("swipe: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func dynamoDecisionKey(source, target string) string {
	return dynamoDecisionPrefix + source + "#" + target
}

func dynamoMatchKey(pair Pair) string {
	return dynamoMatchPrefix + pair.A + "#" + pair.B
}

func (s *DynamoStore) keyOf(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func (s *DynamoStore) UpsertDecision(ctx context.Context, d Decision) error {
	item, err := attributevalue.MarshalMap(decisionItem{
		PK:        dynamoDecisionKey(d.SourcePetID, d.TargetPetID),
		Source:    d.SourcePetID,
		Target:    d.TargetPetID,
		Direction: string(d.Direction),
		Ts:        d.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("swipe: marshal decision: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("swipe: put decision %s->%s: %w", d.SourcePetID, d.TargetPetID, err)
	}
	return nil
}

func (s *DynamoStore) GetDecision(ctx context.Context, sourcePetID, targetPetID string) (*Decision, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyOf(dynamoDecisionKey(sourcePetID, targetPetID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("swipe: get decision %s->%s: %w", sourcePetID, targetPetID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item decisionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("swipe: unmarshal decision: %w", err)
	}
	return &Decision{
		SourcePetID: item.Source,
		TargetPetID: item.Target,
		Direction:   Direction(item.Direction),
		Timestamp:   time.UnixMilli(item.Ts).UTC(),
	}, nil
}

// CreateMatch puts the match with attribute_not_exists(pk), so only the
// first writer for a pair succeeds.
func (s *DynamoStore) CreateMatch(ctx context.Context, m Match) error {
	item, err := attributevalue.MarshalMap(matchItem{
		PK:        dynamoMatchKey(m.Pair()),
		PetA:      m.PetA,
		PetB:      m.PetB,
		CreatedAt: m.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("swipe: marshal match: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrMatchExists
		}
		return fmt.Errorf("swipe: put match %s: %w", m.Pair().Key(), err)
	}
	return nil
}

func (s *DynamoStore) GetMatch(ctx context.Context, pair Pair) (*Match, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyOf(dynamoMatchKey(pair)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("swipe: get match %s: %w", pair.Key(), err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item matchItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("swipe: unmarshal match: %w", err)
	}
	return &Match{
		PetA:      item.PetA,
		PetB:      item.PetB,
		CreatedAt: time.UnixMilli(item.CreatedAt).UTC(),
	}, nil
}
