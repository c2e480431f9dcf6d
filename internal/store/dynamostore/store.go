// Package dynamostore implements store.Store on a DynamoDB table using
// TransactWriteItems. Items are keyed by pk and sk, both set to the record
// key; attributes live under attrs, the logical expiry under exp (unix
// milliseconds) and the table TTL under ttl (unix seconds).
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/spec-kit/account-service/internal/store"
)

const (
	attrPK    = "pk"
	attrSK    = "sk"
	attrAttrs = "attrs"
	attrExp   = "exp"
	attrTTL   = "ttl"

	reasonConditionFailed     = "ConditionalCheckFailed"
	reasonTransactionConflict = "TransactionConflict"

	defaultMaxRetries = 5
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Options tunes the DynamoDB store.
type Options struct {
	Table        string
	Prefix       string
	ReclaimGrace time.Duration
	MaxRetries   int
}

// Store is a DynamoDB-backed record store.
type Store struct {
	api  API
	opts Options
}

var _ store.Store = (*Store)(nil)

// New wraps a DynamoDB client.
func New(api API, opts Options) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Store{api: api, opts: opts}
}

func (s *Store) itemKey(k store.Key) map[string]types.AttributeValue {
	v := &types.AttributeValueMemberS{Value: s.opts.Prefix + string(k)}
	return map[string]types.AttributeValue{attrPK: v, attrSK: v}
}

// Get reads a single record with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key store.Key) (*store.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.Table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeItem(key, out.Item)
}

// Transact submits every operation in one TransactWriteItems call. Condition
// failures are reported by position and mapped back to operation tags here.
func (s *Store) Transact(ctx context.Context, tx *store.Tx) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	ops := tx.Ops()

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := s.writeItem(op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	input := &dynamodb.TransactWriteItemsInput{TransactItems: items}

	var err error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		_, err = s.api.TransactWriteItems(ctx, input)
		if err == nil {
			return nil
		}

		var canceled *types.TransactionCanceledException
		if !errors.As(err, &canceled) {
			return classify(err)
		}
		if failed := failedTags(ops, canceled.CancellationReasons); len(failed) > 0 {
			return &store.CanceledError{Tags: failed}
		}
		if !hasReason(canceled.CancellationReasons, reasonTransactionConflict) {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", store.ErrUnavailable, err)
}

// Ping checks the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.opts.Table)})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need releasing.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeItem(op store.Op) (types.TransactWriteItem, error) {
	table := aws.String(s.opts.Table)
	cond := newConditionBuilder(op.Cond)

	switch op.Type {
	case store.OpCheck:
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 table,
			Key:                       s.itemKey(op.Key),
			ConditionExpression:       cond.expression(),
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: cond.values,
		}}, nil

	case store.OpDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       s.itemKey(op.Key),
			ConditionExpression:       cond.expression(),
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: cond.values,
		}}, nil

	case store.OpPut:
		item, err := s.encodeItem(op.Key, op.Record)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 table,
			Item:                      item,
			ConditionExpression:       cond.expression(),
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: cond.values,
		}}, nil

	case store.OpUpdate:
		update, err := cond.setExpression(op.Set)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       s.itemKey(op.Key),
			UpdateExpression:          aws.String(update),
			ConditionExpression:       cond.expression(),
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: cond.values,
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("%w: unknown operation type", store.ErrInvalidOperation)
}

func (s *Store) encodeItem(key store.Key, rec *store.Record) (map[string]types.AttributeValue, error) {
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	av, err := attributevalue.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidOperation, err)
	}
	item := s.itemKey(key)
	item[attrAttrs] = av
	if !rec.ExpiresAt.IsZero() {
		item[attrExp] = number(rec.ExpiresAt.UnixMilli())
		item[attrTTL] = number(rec.ExpiresAt.Add(s.opts.ReclaimGrace).Unix())
	}
	return item, nil
}

func decodeItem(key store.Key, item map[string]types.AttributeValue) (*store.Record, error) {
	rec := &store.Record{Key: key, Attributes: map[string]any{}}
	if av, ok := item[attrAttrs]; ok {
		if err := attributevalue.Unmarshal(av, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, key, err)
		}
	}
	if av, ok := item[attrExp]; ok {
		var millis int64
		if err := attributevalue.Unmarshal(av, &millis); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, key, err)
		}
		rec.ExpiresAt = time.UnixMilli(millis).UTC()
	}
	return rec, nil
}

// conditionBuilder accumulates expression placeholders for one operation.
type conditionBuilder struct {
	cond   store.Condition
	names  map[string]string
	values map[string]types.AttributeValue
}

func newConditionBuilder(cond store.Condition) *conditionBuilder {
	b := &conditionBuilder{cond: cond}
	if now, live := cond.IsLive(); live {
		b.name("#exp", attrExp)
		b.value(":now", number(now.UnixMilli()))
	}
	if path, want, ok := cond.AttrEquality(); ok {
		b.name("#a", attrAttrs)
		for i, part := range strings.Split(path, ".") {
			b.name("#c"+strconv.Itoa(i), part)
		}
		b.value(":want", &types.AttributeValueMemberS{Value: want})
	}
	return b
}

func (b *conditionBuilder) name(placeholder, attr string) {
	if b.names == nil {
		b.names = map[string]string{}
	}
	b.names[placeholder] = attr
}

func (b *conditionBuilder) value(placeholder string, av types.AttributeValue) {
	if b.values == nil {
		b.values = map[string]types.AttributeValue{}
	}
	b.values[placeholder] = av
}

func (b *conditionBuilder) expression() *string {
	if _, live := b.cond.IsLive(); live {
		return aws.String("attribute_exists(" + attrPK + ") AND #exp > :now")
	}
	if path, _, ok := b.cond.AttrEquality(); ok {
		refs := []string{"#a"}
		for i := range strings.Split(path, ".") {
			refs = append(refs, "#c"+strconv.Itoa(i))
		}
		return aws.String("attribute_exists(" + attrPK + ") AND " + strings.Join(refs, ".") + " = :want")
	}
	switch {
	case b.cond.RequiresExisting():
		return aws.String("attribute_exists(" + attrPK + ")")
	case b.cond.RequiresAbsent():
		return aws.String("attribute_not_exists(" + attrPK + ")")
	}
	return nil
}

// setExpression renders SET clauses for dot paths beneath attrs. Intermediate
// maps along a path must already exist on the item.
func (b *conditionBuilder) setExpression(set map[string]any) (string, error) {
	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	b.name("#a", attrAttrs)
	segments := map[string]string{}
	clauses := make([]string, 0, len(paths))
	for i, path := range paths {
		parts := strings.Split(path, ".")
		refs := []string{"#a"}
		for _, part := range parts {
			if part == "" {
				return "", fmt.Errorf("%w: invalid attribute path %q", store.ErrInvalidOperation, path)
			}
			ref, ok := segments[part]
			if !ok {
				ref = "#n" + strconv.Itoa(len(segments))
				segments[part] = ref
				b.name(ref, part)
			}
			refs = append(refs, ref)
		}
		av, err := attributevalue.Marshal(set[path])
		if err != nil {
			return "", fmt.Errorf("%w: %v", store.ErrInvalidOperation, err)
		}
		placeholder := ":v" + strconv.Itoa(i)
		b.value(placeholder, av)
		clauses = append(clauses, strings.Join(refs, ".")+" = "+placeholder)
	}
	return "SET " + strings.Join(clauses, ", "), nil
}

func failedTags(ops []store.Op, reasons []types.CancellationReason) []store.Tag {
	var failed []store.Tag
	for i, reason := range reasons {
		if i >= len(ops) {
			break
		}
		if aws.ToString(reason.Code) == reasonConditionFailed {
			failed = append(failed, ops[i].Tag)
		}
	}
	return failed
}

func hasReason(reasons []types.CancellationReason, code string) bool {
	for _, reason := range reasons {
		if aws.ToString(reason.Code) == code {
			return true
		}
	}
	return false
}

func number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
