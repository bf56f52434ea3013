package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"chathistory/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const DefaultMirrorTable = "ChatHistoryAudit"

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoMirror copies stored chat history entries into a DynamoDB table keyed
// by batch id and position.
type DynamoMirror struct {
	client dynamoAPI
	table  string
	now    func() time.Time
	logger *slog.Logger
}

func NewDynamoMirror(client dynamoAPI, table string, logger *slog.Logger) *DynamoMirror {
	if table == "" {
		table = DefaultMirrorTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoMirror{
		client: client,
		table:  table,
		now:    time.Now,
		logger: logger,
	}
}

// NewDynamoDBClient builds a client for region. A non-empty endpoint points the
// client at a local DynamoDB with static dummy credentials.
func NewDynamoDBClient(ctx context.Context, endpoint, region string) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{
					AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy",
				},
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// EnsureTable creates the mirror table; an existing table is not an error.
func (m *DynamoMirror) EnsureTable(ctx context.Context) error {
	_, err := m.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(m.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("BatchID"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("Seq"),
				AttributeType: types.ScalarAttributeTypeN,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("BatchID"),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String("Seq"),
				KeyType:       types.KeyTypeRange,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			m.logger.Info("mirror table already exists", "table", m.table)
			return nil
		}
		return fmt.Errorf("create table %s: %w", m.table, err)
	}
	m.logger.Info("mirror table created", "table", m.table)
	return nil
}

// MirrorEntries writes one item per entry, keyed by its position in the batch.
func (m *DynamoMirror) MirrorEntries(ctx context.Context, batchID string, entries []StoredEntry) error {
	timestamp := FormatTimestamp(m.now())

	var errs []error
	for _, e := range entries {
		_, err := m.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(m.table),
			Item:      chatEntryItem(batchID, e.Seq, e.Entry, timestamp),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("put item %d: %w", e.Seq, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	m.logger.Debug("chat history mirrored", "batch_id", batchID, "entries", len(entries), "table", m.table)
	return nil
}

func chatEntryItem(batchID string, seq int, e models.ChatEntry, timestamp string) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"BatchID":   &types.AttributeValueMemberS{Value: batchID},
		"Seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(seq)},
		"Sender":    &types.AttributeValueMemberS{Value: e.Sender},
		"Message":   &types.AttributeValueMemberS{Value: e.Message},
		"Timestamp": &types.AttributeValueMemberS{Value: timestamp},
	}
	if e.TTSAudioLink != nil {
		item["TTSAudioLink"] = &types.AttributeValueMemberS{Value: *e.TTSAudioLink}
	}
	return item
}
