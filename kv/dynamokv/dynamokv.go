// Package dynamokv implements kv.Store on a single DynamoDB table.
//
// Every key is one item with partition key "k" and a "kind" attribute:
//
//   - hash: each field f is a top-level string attribute "h:f"
//   - set: members are the string set "m", changed with atomic ADD/DELETE
//   - string: the value is "v"
//
// Expiry uses the table's TTL attribute "ttl" (epoch seconds). Items past
// their TTL read as absent until DynamoDB removes them; the removal shows up
// on the table's stream, where stream.Handler picks it up.
package dynamokv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tendril/kv"
)

const (
	attrKey     = "k"
	attrKind    = "kind"
	attrMembers = "m"
	attrValue   = "v"
	attrTTL     = "ttl"

	hashFieldPrefix = "h:"

	// KindHash marks hash items. Stream consumers use it to tell entity
	// hashes from sets and strings.
	KindHash   = "hash"
	KindSet    = "set"
	KindString = "string"
)

// Client is the subset of the DynamoDB API used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Config holds table settings.
type Config struct {
	// Table is the table name. Default: "tendril"
	Table string
}

// DefaultConfig returns the default table settings.
func DefaultConfig() Config {
	return Config{Table: "tendril"}
}

func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "tendril"
	}
}

// Store is a DynamoDB backed kv.Store. It does not support publish/subscribe.
type Store struct {
	client Client
	config Config
	now    func() time.Time
}

var _ kv.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store on an existing table; see CreateTable.
func New(client Client, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{client: client, config: config, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.config.Table
}

// record is the decoded form of any item.
type record struct {
	Key     string   `dynamodbav:"k"`
	Kind    string   `dynamodbav:"kind"`
	Members []string `dynamodbav:"m,stringset,omitempty"`
	Value   string   `dynamodbav:"v,omitempty"`
	TTL     int64    `dynamodbav:"ttl,omitempty"`
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}}
}

// get returns the live item at key, or nil.
func (s *Store) get(ctx context.Context, op, key string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if out.Item == nil || isExpired(out.Item, s.now()) {
		return nil, nil
	}
	return out.Item, nil
}

func (s *Store) getRecord(ctx context.Context, op, key, kind string) (*record, error) {
	item, err := s.get(ctx, op, key)
	if err != nil || item == nil {
		return nil, err
	}
	var r record
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("dynamodb %s: decode %s: %w", op, key, err)
	}
	if r.Kind != kind {
		return nil, nil
	}
	return &r, nil
}

// evictExpired deletes an item whose TTL has passed but which DynamoDB has not
// removed yet, so that writes start from an empty key.
func (s *Store) evictExpired(ctx context.Context, op, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       keyOf(key),
		ConditionExpression:       aws.String("#ttl <= :now"),
		ExpressionAttributeNames:  map[string]string{"#ttl": attrTTL},
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": ttlValue(s.now().Unix())},
	})
	return ignoreConditionFailed(op, err)
}

func (s *Store) HGetAll(ctx context.Context, key string) (kv.Hash, error) {
	item, err := s.get(ctx, "hgetall", key)
	if err != nil {
		return nil, err
	}
	h := kv.Hash{}
	if item == nil || kindOf(item) != KindHash {
		return h, nil
	}
	for name, av := range item {
		field, ok := strings.CutPrefix(name, hashFieldPrefix)
		if !ok {
			continue
		}
		if sv, ok := av.(*types.AttributeValueMemberS); ok {
			h[field] = sv.Value
		}
	}
	return h, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields kv.Hash) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.evictExpired(ctx, "hset", key); err != nil {
		return err
	}

	names := map[string]string{"#kind": attrKind}
	values := map[string]types.AttributeValue{":kind": &types.AttributeValueMemberS{Value: KindHash}}
	sets := []string{"#kind = :kind"}

	i := 0
	for f, v := range fields {
		n, val := "#f"+strconv.Itoa(i), ":v"+strconv.Itoa(i)
		names[n] = hashFieldPrefix + f
		values[val] = &types.AttributeValueMemberS{Value: v}
		sets = append(sets, n+" = "+val)
		i++
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       keyOf(key),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return wrap("hset", err)
}

// HDel removes fields and deletes the item once no field is left.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	names := map[string]string{"#k": attrKey}
	removes := make([]string, 0, len(fields))
	for i, f := range fields {
		n := "#f" + strconv.Itoa(i)
		names[n] = hashFieldPrefix + f
		removes = append(removes, n)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.config.Table),
		Key:                      keyOf(key),
		UpdateExpression:         aws.String("REMOVE " + strings.Join(removes, ", ")),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: names,
		ReturnValues:             types.ReturnValueAllNew,
	})
	if err != nil {
		return ignoreConditionFailed("hdel", err)
	}
	for name := range out.Attributes {
		if strings.HasPrefix(name, hashFieldPrefix) {
			return nil
		}
	}
	return s.deleteItem(ctx, "hdel", key)
}

func (s *Store) deleteItem(ctx context.Context, op, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       keyOf(key),
	})
	return wrap(op, err)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.deleteItem(ctx, "del", k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	item, err := s.get(ctx, "exists", key)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := s.evictExpired(ctx, "sadd", key); err != nil {
		return err
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.config.Table),
		Key:                      keyOf(key),
		UpdateExpression:         aws.String("SET #kind = :kind ADD #m :members"),
		ExpressionAttributeNames: map[string]string{"#kind": attrKind, "#m": attrMembers},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":kind":    &types.AttributeValueMemberS{Value: KindSet},
			":members": &types.AttributeValueMemberSS{Value: dedupe(members)},
		},
	})
	return wrap("sadd", err)
}

// SRem removes members and deletes the item once the set is empty.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       keyOf(key),
		UpdateExpression:          aws.String("DELETE #m :members"),
		ConditionExpression:       aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames:  map[string]string{"#k": attrKey, "#m": attrMembers},
		ExpressionAttributeValues: map[string]types.AttributeValue{":members": &types.AttributeValueMemberSS{Value: dedupe(members)}},
	})
	if err != nil {
		return ignoreConditionFailed("srem", err)
	}

	// DynamoDB drops an emptied set attribute; the item goes with it.
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.config.Table),
		Key:                      keyOf(key),
		ConditionExpression:      aws.String("attribute_not_exists(#m)"),
		ExpressionAttributeNames: map[string]string{"#m": attrMembers},
	})
	return ignoreConditionFailed("srem", err)
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	r, err := s.getRecord(ctx, "smembers", key, KindSet)
	if err != nil || r == nil {
		return nil, err
	}
	return r.Members, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	members, err := s.SMembers(ctx, key)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == member {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	members, err := s.SMembers(ctx, key)
	return int64(len(members)), err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := s.getRecord(ctx, "get", key, KindString)
	if err != nil || r == nil {
		return "", false, err
	}
	return r.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	r := record{Key: key, Kind: KindString, Value: value}
	if ttl > 0 {
		r.TTL = expiresAt(s.now(), ttl)
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("dynamodb set: encode %s: %w", key, err)
	}
	// an empty value is dropped by omitempty but is still a value
	item[attrValue] = &types.AttributeValueMemberS{Value: value}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      item,
	})
	return wrap("set", err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.deleteItem(ctx, "expire", key)
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       keyOf(key),
		UpdateExpression:          aws.String("SET #ttl = :ttl"),
		ConditionExpression:       aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames:  map[string]string{"#k": attrKey, "#ttl": attrTTL},
		ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": ttlValue(expiresAt(s.now(), ttl))},
	})
	return ignoreConditionFailed("expire", err)
}

// Keys scans the table. It is meant for tooling, not request paths.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	builder := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name(attrKey), expression.Name(attrTTL)))
	if prefix != "" {
		builder = builder.WithFilter(expression.Name(attrKey).BeginsWith(prefix))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("dynamodb keys: build expression: %w", err)
	}

	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.Table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	now := s.now()
	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrap("keys", err)
		}
		for _, item := range page.Items {
			if isExpired(item, now) {
				continue
			}
			if k, ok := item[attrKey].(*types.AttributeValueMemberS); ok {
				out = append(out, k.Value)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	})
	return wrap("ping", err)
}

// Close is a no-op; the SDK client holds no connection of its own.
func (s *Store) Close() error {
	return nil
}

func kindOf(item map[string]types.AttributeValue) string {
	if v, ok := item[attrKind].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// dedupe drops repeated members; string sets reject duplicates.
func dedupe(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func ignoreConditionFailed(op string, err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return wrap(op, err)
}

// wrap maps transport failures to kv.ErrNotConnected.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("dynamodb %s: %w: %v", op, kv.ErrNotConnected, err)
	}
	return fmt.Errorf("dynamodb %s: %w", op, err)
}
