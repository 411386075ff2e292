// Package dynamo implements kv.Store on a single DynamoDB table.
//
// # Table layout
//
// Every kv key is a partition (pk). Strings, counters and hashes live in one
// item with sk "#":
//
//	pk          sk   t    v / n            h:<field>
//	total_users #    s    n=12
//	user:1      #    h                     h:email="a@x.com" ...
//
// Sorted-set members are separate items with sk "m#<member>" and a numeric
// score, ranged through a local secondary index on (pk, score):
//
//	pk              sk    member  score
//	user:1:rel:post m#4   4       4
//
// Only Incr is atomic across callers, matching the kv.Store contract.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tidwall/match"

	"github.com/jacentio/kvmodel/kv"
)

const (
	attrPK     = "pk"
	attrSK     = "sk"
	attrKind   = "t"
	attrString = "v"
	attrNumber = "n"
	attrMember = "member"
	attrScore  = "score"

	// MetaSK is the sort key of the item holding a string, counter or hash.
	MetaSK = "#"

	// MemberSKPrefix prefixes the sort key of sorted-set members.
	MemberSKPrefix = "m#"

	// HashFieldPrefix prefixes attributes that hold hash fields.
	HashFieldPrefix = "h:"

	kindString = "s"
	kindHash   = "h"

	// batchSize is the BatchWriteItem request limit.
	batchSize = 25
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// memberItem is the stored form of one sorted-set member.
type memberItem struct {
	PK     string  `dynamodbav:"pk"`
	SK     string  `dynamodbav:"sk"`
	Member string  `dynamodbav:"member"`
	Score  float64 `dynamodbav:"score"`
}

// Store implements kv.Store on DynamoDB.
type Store struct {
	client API
	config Config
}

var _ kv.Store = (*Store)(nil)

// New creates a Store over an existing client.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

func metaKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key},
		attrSK: &types.AttributeValueMemberS{Value: MetaSK},
	}
}

func memberKey(key, member string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key},
		attrSK: &types.AttributeValueMemberS{Value: MemberSKPrefix + member},
	}
}

// Exists reports whether any item is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		ProjectionExpression: aws.String("#pk"),
		ConsistentRead:       aws.Bool(true),
		Limit:                aws.Int32(1),
	})
	if err != nil {
		return false, mapError(err)
	}
	return len(out.Items) > 0, nil
}

// Set stores value in the meta item of key, replacing a string or hash.
// Canonical integers are stored as numbers so that Incr can continue from
// them; other forms such as "007" stay strings.
func (s *Store) Set(ctx context.Context, key, value string) error {
	item := metaKey(key)
	item[attrKind] = &types.AttributeValueMemberS{Value: kindString}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && strconv.FormatInt(n, 10) == value {
		item[attrNumber] = &types.AttributeValueMemberN{Value: value}
	} else {
		item[attrString] = &types.AttributeValueMemberS{Value: value}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      item,
	})
	return mapError(err)
}

// Get returns the string value of key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	item, err := s.getMeta(ctx, key)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", kv.ErrNil
	}
	return stringValue(item)
}

func (s *Store) getMeta(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            metaKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Item, nil
}

// Del removes every item stored under each key.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var (
		deleted int64
		pending []map[string]types.AttributeValue
	)
	for _, key := range keys {
		itemKeys, err := s.itemKeys(ctx, key)
		if err != nil {
			return deleted, err
		}
		if len(itemKeys) > 0 {
			deleted++
		}
		pending = append(pending, itemKeys...)
	}
	if err := s.batchDelete(ctx, pending); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// itemKeys lists the primary keys of all items under pk.
func (s *Store) itemKeys(ctx context.Context, key string) ([]map[string]types.AttributeValue, error) {
	var out []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK, "#sk": attrSK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		ProjectionExpression: aws.String("#pk, #sk"),
		ConsistentRead:       aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, page.Items...)
	}
	return out, nil
}

// batchDelete deletes items in BatchWriteItem-sized chunks, resubmitting
// unprocessed requests.
func (s *Store) batchDelete(ctx context.Context, itemKeys []map[string]types.AttributeValue) error {
	for start := 0; start < len(itemKeys); start += batchSize {
		end := start + batchSize
		if end > len(itemKeys) {
			end = len(itemKeys)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range itemKeys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: k},
			})
		}

		input := map[string][]types.WriteRequest{s.config.Table: requests}
		for len(input) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: input,
			})
			if err != nil {
				return mapError(err)
			}
			input = out.UnprocessedItems
		}
	}
	return nil
}

// Incr atomically adds one to the counter of key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.Table),
		Key:                 metaKey(key),
		UpdateExpression:    aws.String("SET #t = :s ADD #n :one"),
		ConditionExpression: aws.String("(attribute_not_exists(#t) OR #t = :s) AND attribute_not_exists(#v)"),
		ExpressionAttributeNames: map[string]string{
			"#t": attrKind,
			"#n": attrNumber,
			"#v": attrString,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: kindString},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, s.classifyConflict(ctx, key)
		}
		return 0, mapError(err)
	}

	n, ok := out.Attributes[attrNumber].(*types.AttributeValueMemberN)
	if !ok {
		return 0, kv.ErrNotInteger
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// classifyConflict explains why a conditional counter update failed.
func (s *Store) classifyConflict(ctx context.Context, key string) error {
	item, err := s.getMeta(ctx, key)
	if err != nil {
		return err
	}
	if kindOf(item) == kindString {
		return kv.ErrNotInteger
	}
	return kv.ErrWrongType
}

// HSet writes fields into the hash of key with a single UpdateItem.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	updateExpr, names, values := hashUpdate(fields)
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.Table),
		Key:                       metaKey(key),
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String("attribute_not_exists(#t) OR #t = :h"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return kv.ErrWrongType
		}
		return mapError(err)
	}
	return nil
}

// hashUpdate builds the SET expression writing fields as h:<field> attributes.
func hashUpdate(fields map[string]string) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#t": attrKind}
	values := map[string]types.AttributeValue{
		":h": &types.AttributeValueMemberS{Value: kindHash},
	}
	clauses := []string{"#t = :h"}

	// Sorted for a deterministic expression.
	ordered := make([]string, 0, len(fields))
	for f := range fields {
		ordered = append(ordered, f)
	}
	sort.Strings(ordered)

	for i, f := range ordered {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = HashFieldPrefix + f
		values[valueKey] = &types.AttributeValueMemberS{Value: fields[f]}
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	return "SET " + strings.Join(clauses, ", "), names, values
}

// HGetAll returns every field of the hash of key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	item, err := s.getMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return map[string]string{}, nil
	}
	if kindOf(item) != kindHash {
		return nil, kv.ErrWrongType
	}
	return hashFields(item), nil
}

// ZAdd stores member as its own item.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	item, err := attributevalue.MarshalMap(memberItem{
		PK:     key,
		SK:     MemberSKPrefix + member,
		Member: member,
		Score:  score,
	})
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      item,
	})
	return mapError(err)
}

// ZRem deletes the member items.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	itemKeys := make([]map[string]types.AttributeValue, 0, len(members))
	for _, m := range members {
		itemKeys = append(itemKeys, memberKey(key, m))
	}
	return s.batchDelete(ctx, itemKeys)
}

// ZRange queries the score index in the requested direction.
func (s *Store) ZRange(ctx context.Context, key string, opts kv.RangeOptions) ([]string, error) {
	want := -1
	if opts.Limit > 0 {
		want = int(opts.Offset + opts.Limit)
	}

	members := []string{}
	paginator := dynamodb.NewQueryPaginator(s.client, s.scoreQuery(key, !opts.Reverse))
	for paginator.HasMorePages() && (want < 0 || len(members) < want) {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		var items []memberItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal members: %w", err)
		}
		for _, item := range items {
			members = append(members, item.Member)
		}
	}

	start, end := opts.Window(len(members))
	return members[start:end], nil
}

// ZCard counts members through the score index.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	input := s.scoreQuery(key, true)
	input.Select = types.SelectCount

	var n int64
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, mapError(err)
		}
		n += int64(page.Count)
	}
	return n, nil
}

func (s *Store) scoreQuery(key string, forward bool) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		IndexName:                aws.String(s.config.ScoreIndex),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key},
		},
		ScanIndexForward: aws.Bool(forward),
		ConsistentRead:   aws.Bool(true),
	}
}

// Keys scans the table for partition keys matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := map[string]bool{}
	keys := []string{}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.config.Table),
		ProjectionExpression:     aws.String("#pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ConsistentRead:           aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, item := range page.Items {
			pk, ok := item[attrPK].(*types.AttributeValueMemberS)
			if !ok || seen[pk.Value] {
				continue
			}
			seen[pk.Value] = true
			if match.Match(pk.Value, pattern) {
				keys = append(keys, pk.Value)
			}
		}
	}
	return keys, nil
}

// Close is a no-op; the SDK client holds no connection to release.
func (s *Store) Close() error {
	return nil
}

// kindOf returns the kind tag of a meta item.
func kindOf(item map[string]types.AttributeValue) string {
	if v, ok := item[attrKind].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// stringValue extracts the value of a string meta item.
func stringValue(item map[string]types.AttributeValue) (string, error) {
	if kindOf(item) != kindString {
		return "", kv.ErrWrongType
	}
	if v, ok := item[attrString].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	if v, ok := item[attrNumber].(*types.AttributeValueMemberN); ok {
		return v.Value, nil
	}
	return "", nil
}

// hashFields extracts h:<field> attributes of a hash meta item.
func hashFields(item map[string]types.AttributeValue) map[string]string {
	out := map[string]string{}
	for name, av := range item {
		field, ok := strings.CutPrefix(name, HashFieldPrefix)
		if !ok {
			continue
		}
		if v, ok := av.(*types.AttributeValueMemberS); ok {
			out[field] = v.Value
		}
	}
	return out
}

// HashFields decodes the hash fields of a raw meta item. It is exported for
// stream consumers that receive item images.
func HashFields(item map[string]types.AttributeValue) map[string]string {
	return hashFields(item)
}

// mapError wraps SDK failures as kv.ErrUnavailable; context errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", kv.ErrUnavailable, err)
}
