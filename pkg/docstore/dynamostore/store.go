// Package dynamostore implements docstore.Store on an Amazon DynamoDB table.
//
// The table needs a single string partition key named "id". Every item also
// carries a "rev" string and the document body as binary "body". Conditional
// writes are expressed as DynamoDB condition expressions, so revision checks
// happen on the server.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/logging"
	"github.com/Sternrassler/doc-cache/pkg/pagination"
)

const (
	attrID   = "id"
	attrRev  = "rev"
	attrBody = "body"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config configures a Store.
type Config struct {
	// Table is the DynamoDB table name.
	Table string

	// PageSize is the Scan limit per request (default: 100).
	PageSize int32

	// Logger receives store logs.
	Logger *zerolog.Logger
}

// item is the stored representation of a document.
type item struct {
	ID   string `dynamodbav:"id"`
	Rev  string `dynamodbav:"rev"`
	Body []byte `dynamodbav:"body"`
}

// Store is a docstore.Store backed by DynamoDB.
type Store struct {
	api      API
	table    string
	pageSize int32
	logger   zerolog.Logger
}

// New creates a store on an existing DynamoDB client.
func New(api API, cfg Config) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}

	logger := logging.NewLogger("dynamostore")
	if cfg.Logger != nil {
		logger = logging.Component(*cfg.Logger, "dynamostore")
	}

	return &Store{api: api, table: cfg.Table, pageSize: cfg.PageSize, logger: logger}, nil
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint overrides the service endpoint, e.g. for DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID: &types.AttributeValueMemberS{Value: id},
	}
}

// condition translates a hint into a condition expression. ok is false for
// unconditional writes.
func condition(hint docstore.RevisionHint) (expr expression.Expression, ok bool, err error) {
	var cond expression.ConditionBuilder
	switch {
	case hint.Unconditional():
		return expr, false, nil
	case hint.RequiresAbsent():
		cond = expression.Name(attrID).AttributeNotExists()
	default:
		cond = expression.Name(attrRev).Equal(expression.Value(hint.Rev))
	}
	expr, err = expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return expr, false, fmt.Errorf("build condition: %w", err)
	}
	return expr, true, nil
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, id string, body []byte, hint docstore.RevisionHint) (string, error) {
	rev := uuid.NewString()
	av, err := attributevalue.MarshalMap(item{ID: id, Rev: rev, Body: body})
	if err != nil {
		return "", fmt.Errorf("marshal item %q: %w", id, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	expr, conditional, err := condition(hint)
	if err != nil {
		return "", err
	}
	if conditional {
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	if _, err := s.api.PutItem(ctx, input); err != nil {
		return "", s.writeError("put", id, err)
	}
	return rev, nil
}

// Fetch implements docstore.Store with a strongly consistent read.
func (s *Store) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return docstore.Document{}, unavailable("fetch", id, err)
	}
	if out.Item == nil {
		return docstore.Document{}, docstore.ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return docstore.Document{}, fmt.Errorf("unmarshal item %q: %w", id, err)
	}
	return docstore.Document{ID: it.ID, Rev: it.Rev, Body: it.Body}, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, id string, hint docstore.RevisionHint) error {
	if hint.RequiresAbsent() {
		_, err := s.Fetch(ctx, id)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			return nil
		case err != nil:
			return err
		default:
			return docstore.ErrConflict
		}
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	}
	expr, conditional, err := condition(hint)
	if err != nil {
		return err
	}
	if conditional {
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	if _, err := s.api.DeleteItem(ctx, input); err != nil {
		return s.writeError("delete", id, err)
	}
	return nil
}

func (s *Store) writeError(op, id string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		s.logger.Debug().Str("op", op).Str("id", id).Msg("Condition check failed")
		return docstore.ErrConflict
	}
	return unavailable(op, id, err)
}

// ListByPrefix implements docstore.Store with a filtered Scan. A filtered
// page may be empty while more pages remain, so the paginator is driven
// until DynamoDB reports no further key.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[docstore.Document, error] {
	return func(yield func(docstore.Document, error) bool) {
		filter := expression.Name(attrID).BeginsWith(prefix)
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			yield(docstore.Document{}, fmt.Errorf("build filter: %w", err))
			return
		}

		paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ConsistentRead:            aws.Bool(true),
			Limit:                     aws.Int32(s.pageSize),
		})

		for page := 1; paginator.HasMorePages(); page++ {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				yield(docstore.Document{}, unavailable("scan", prefix, fmt.Errorf("page %d: %w", page, err)))
				return
			}

			var items []item
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
				yield(docstore.Document{}, fmt.Errorf("unmarshal scan page %d: %w", page, err))
				return
			}
			for _, it := range items {
				if !yield(docstore.Document{ID: it.ID, Rev: it.Rev, Body: it.Body}, nil) {
					return
				}
			}
		}
	}
}

// Ping implements docstore.Pinger by describing the table.
func (s *Store) Ping(ctx context.Context) error {
	out, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return unavailable("ping", s.table, err)
	}
	if out.Table != nil && out.Table.TableStatus != types.TableStatusActive && out.Table.TableStatus != types.TableStatusUpdating {
		return unavailable("ping", s.table, fmt.Errorf("table status %s", out.Table.TableStatus))
	}
	return nil
}

func unavailable(op, id string, err error) error {
	return fmt.Errorf("%w: dynamodb %s %q: %w", docstore.ErrUnavailable, op, id, err)
}

var (
	_ docstore.Store  = (*Store)(nil)
	_ docstore.Pinger = (*Store)(nil)
)
