// Package dynamo provides a DynamoDB-backed attribute store.
//
// Each container is a table keyed by the string attribute item_name. Every other attribute is
// stored as a string set, so an attribute name can carry several distinct values. Writes use
// UpdateItem with SET and ADD actions, batches use TransactWriteItems, and select expressions
// are translated to PartiQL.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/attrmap/backend"
)

// KeyAttribute is the partition key of every container table.
const KeyAttribute = "item_name"

// maxTransactItems is the DynamoDB limit on actions per TransactWriteItems call.
const maxTransactItems = 100

// API is the subset of the DynamoDB client used by Client.
type API interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	ExecuteStatement(ctx context.Context, params *dynamodb.ExecuteStatementInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error)
}

// Config holds configuration for the Client.
type Config struct {
	// TablePrefix is prepended to container names to form table names.
	TablePrefix string

	// CreateTimeout bounds how long CreateContainer waits for a new table to become active.
	// Default: 3 minutes
	CreateTimeout time.Duration

	// Logger receives table lifecycle messages. Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 3 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a backend.Client over DynamoDB.
type Client struct {
	api    API
	config Config
}

// New creates a Client.
func New(api API, config Config) *Client {
	config.validate()
	return &Client{api: api, config: config}
}

func (c *Client) table(container string) string {
	return c.config.TablePrefix + container
}

// CreateContainer creates the container's table and waits for it to become active. An existing
// table is left as is.
func (c *Client) CreateContainer(ctx context.Context, name string) error {
	table := c.table(name)
	startTime := time.Now()
	_, err := c.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		TableClass:  types.TableClassStandard,
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(KeyAttribute),
			AttributeType: types.ScalarAttributeTypeS,
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(KeyAttribute),
			KeyType:       types.KeyTypeHash,
		}},
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = 3 * time.Second
		o.MaxDelay = 30 * time.Second
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, c.config.CreateTimeout); err != nil {
		return fmt.Errorf("failed waiting for table %s to become active: %w", table, err)
	}
	c.config.Logger.Info("table active", "table", table, "elapsed", time.Since(startTime))
	return nil
}

// DeleteContainer deletes the container's table.
func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	table := c.table(name)
	if _, err := c.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)}); err != nil {
		return mapError(table, err)
	}
	return nil
}

// ListContainers returns one page of container names. Tables outside the prefix are skipped.
func (c *Client) ListContainers(ctx context.Context, token string) ([]string, string, error) {
	input := &dynamodb.ListTablesInput{}
	if token != "" {
		input.ExclusiveStartTableName = aws.String(token)
	}
	out, err := c.api.ListTables(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for _, table := range out.TableNames {
		if name, ok := strings.CutPrefix(table, c.config.TablePrefix); ok {
			names = append(names, name)
		}
	}
	return names, aws.ToString(out.LastEvaluatedTableName), nil
}

// Put writes one item with UpdateItem. cond becomes a condition expression.
func (c *Client) Put(ctx context.Context, container string, item backend.Item, cond *backend.Condition) error {
	table := c.table(container)
	input := updateInput(table, item)
	if input == nil {
		return nil
	}
	if cond != nil {
		input.ExpressionAttributeNames["#cond"] = cond.Name
		if cond.Exists {
			input.ConditionExpression = aws.String("contains(#cond, :cond)")
			input.ExpressionAttributeValues[":cond"] = &types.AttributeValueMemberS{Value: encodeValue(cond.Value)}
		} else {
			input.ConditionExpression = aws.String("attribute_not_exists(#cond)")
		}
	}
	if _, err := c.api.UpdateItem(ctx, input); err != nil {
		return mapError(table, err)
	}
	return nil
}

// BatchPut writes items in transactions of up to 100 updates.
func (c *Client) BatchPut(ctx context.Context, container string, items []backend.Item) error {
	table := c.table(container)
	var actions []types.TransactWriteItem
	for _, item := range items {
		input := updateInput(table, item)
		if input == nil {
			continue
		}
		actions = append(actions, types.TransactWriteItem{Update: &types.Update{
			TableName:                 input.TableName,
			Key:                       input.Key,
			UpdateExpression:          input.UpdateExpression,
			ExpressionAttributeNames:  input.ExpressionAttributeNames,
			ExpressionAttributeValues: input.ExpressionAttributeValues,
		}})
	}
	return c.transact(ctx, table, actions)
}

// Get reads one item with GetItem, projected to names when given.
func (c *Client) Get(ctx context.Context, container, itemName string, names []string, consistent bool) ([]backend.Attribute, error) {
	table := c.table(container)
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key(itemName),
		ConsistentRead: aws.Bool(consistent),
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = make(map[string]string, len(names))
		placeholders := make([]string, len(names))
		for i, n := range names {
			p := fmt.Sprintf("#p%d", i)
			input.ExpressionAttributeNames[p] = n
			placeholders[i] = p
		}
		input.ProjectionExpression = aws.String(strings.Join(placeholders, ", "))
	}
	out, err := c.api.GetItem(ctx, input)
	if err != nil {
		return nil, mapError(table, err)
	}
	item, err := decodeItem(out.Item)
	if err != nil {
		return nil, err
	}
	return item.Attributes, nil
}

// Delete removes attributes with UpdateItem, or the whole item with DeleteItem.
func (c *Client) Delete(ctx context.Context, container, itemName string, attrs []backend.Attribute) error {
	table := c.table(container)
	if len(attrs) == 0 {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(table),
			Key:       key(itemName),
		})
		return mapError(table, err)
	}
	_, err := c.api.UpdateItem(ctx, removeInput(table, itemName, attrs))
	return mapError(table, err)
}

// BatchDelete removes attributes of several items in transactions of up to 100 actions.
func (c *Client) BatchDelete(ctx context.Context, container string, items []backend.Item) error {
	table := c.table(container)
	actions := make([]types.TransactWriteItem, 0, len(items))
	for _, item := range items {
		if len(item.Attributes) == 0 {
			actions = append(actions, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(table),
				Key:       key(item.Name),
			}})
			continue
		}
		input := removeInput(table, item.Name, item.Attributes)
		actions = append(actions, types.TransactWriteItem{Update: &types.Update{
			TableName:                 input.TableName,
			Key:                       input.Key,
			UpdateExpression:          input.UpdateExpression,
			ExpressionAttributeNames:  input.ExpressionAttributeNames,
			ExpressionAttributeValues: input.ExpressionAttributeValues,
		}})
	}
	return c.transact(ctx, table, actions)
}

func (c *Client) transact(ctx context.Context, table string, actions []types.TransactWriteItem) error {
	for start := 0; start < len(actions); start += maxTransactItems {
		end := min(start+maxTransactItems, len(actions))
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: actions[start:end],
		}); err != nil {
			return mapError(table, err)
		}
	}
	return nil
}

// Query runs a select expression as a PartiQL statement and returns one page. Count queries
// count the items of each page.
func (c *Client) Query(ctx context.Context, container, expression, token string, consistent bool) (*backend.Page, error) {
	sel, err := backend.ParseSelect(expression)
	if err != nil {
		return nil, err
	}
	if container == "" {
		container = sel.Container
	}
	table := c.table(container)
	statement, params := partiQL(table, sel)
	input := &dynamodb.ExecuteStatementInput{
		Statement:      aws.String(statement),
		Parameters:     params,
		ConsistentRead: aws.Bool(consistent),
	}
	if token != "" {
		input.NextToken = aws.String(token)
	}
	if sel.Limit > 0 {
		input.Limit = aws.Int32(int32(sel.Limit))
	}
	out, err := c.api.ExecuteStatement(ctx, input)
	if err != nil {
		return nil, mapError(table, err)
	}

	page := &backend.Page{NextToken: aws.ToString(out.NextToken)}
	count := 0
	for _, raw := range out.Items {
		item, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		// Items whose attributes were all removed linger as bare keys.
		if len(item.Attributes) == 0 {
			continue
		}
		count++
		if sel.Projection != backend.ProjectCount {
			page.Items = append(page.Items, sel.Project(item))
		}
	}
	if sel.Projection == backend.ProjectCount {
		page.Items = []backend.Item{{
			Name:       "Domain",
			Attributes: []backend.Attribute{{Name: backend.CountAttribute, Value: fmt.Sprint(count)}},
		}}
	}
	return page, nil
}

func key(itemName string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: itemName},
	}
}

// updateInput groups attributes by name. A name with any replacing attribute is SET to the
// values from the first replacing one on; other names ADD their values to the set.
func updateInput(table string, item backend.Item) *dynamodb.UpdateItemInput {
	if len(item.Attributes) == 0 {
		return nil
	}
	var order []string
	groups := make(map[string][]backend.Attribute)
	for _, a := range item.Attributes {
		if _, ok := groups[a.Name]; !ok {
			order = append(order, a.Name)
		}
		groups[a.Name] = append(groups[a.Name], a)
	}

	names := make(map[string]string, len(order))
	values := make(map[string]types.AttributeValue, len(order))
	var sets, adds []string
	for i, name := range order {
		attrs := groups[name]
		replaceFrom := -1
		for j, a := range attrs {
			if a.Replace {
				replaceFrom = j
				break
			}
		}
		if replaceFrom >= 0 {
			attrs = attrs[replaceFrom:]
		}
		n, v := fmt.Sprintf("#a%d", i), fmt.Sprintf(":v%d", i)
		names[n] = name
		values[v] = stringSet(attrs)
		if replaceFrom >= 0 {
			sets = append(sets, n+" = "+v)
		} else {
			adds = append(adds, n+" "+v)
		}
	}

	var expr []string
	if len(sets) > 0 {
		expr = append(expr, "SET "+strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		expr = append(expr, "ADD "+strings.Join(adds, ", "))
	}
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key(item.Name),
		UpdateExpression:          aws.String(strings.Join(expr, " ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

// removeInput builds REMOVE actions for value-less attributes and DELETE set actions for the
// rest.
func removeInput(table, itemName string, attrs []backend.Attribute) *dynamodb.UpdateItemInput {
	var order []string
	whole := make(map[string]bool)
	groups := make(map[string][]backend.Attribute)
	for _, a := range attrs {
		if _, seen := groups[a.Name]; !seen && !whole[a.Name] {
			order = append(order, a.Name)
		}
		if a.Value == "" {
			whole[a.Name] = true
			continue
		}
		groups[a.Name] = append(groups[a.Name], a)
	}

	names := make(map[string]string, len(order))
	values := make(map[string]types.AttributeValue)
	var removes, deletes []string
	for i, name := range order {
		n := fmt.Sprintf("#a%d", i)
		names[n] = name
		if whole[name] {
			removes = append(removes, n)
			continue
		}
		v := fmt.Sprintf(":v%d", i)
		values[v] = stringSet(groups[name])
		deletes = append(deletes, n+" "+v)
	}

	var expr []string
	if len(removes) > 0 {
		expr = append(expr, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(deletes) > 0 {
		expr = append(expr, "DELETE "+strings.Join(deletes, ", "))
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(table),
		Key:                      key(itemName),
		UpdateExpression:         aws.String(strings.Join(expr, " ")),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	return input
}

// stringSet returns the distinct encoded values of attrs.
func stringSet(attrs []backend.Attribute) *types.AttributeValueMemberSS {
	seen := make(map[string]bool, len(attrs))
	ss := &types.AttributeValueMemberSS{}
	for _, a := range attrs {
		v := encodeValue(a.Value)
		if !seen[v] {
			seen[v] = true
			ss.Value = append(ss.Value, v)
		}
	}
	return ss
}

// DynamoDB string sets can't hold empty strings, so the empty string is stored as a lone NUL
// and values that already start with NUL get one more.
const escape = "\x00"

func encodeValue(v string) string {
	if v == "" || strings.HasPrefix(v, escape) {
		return escape + v
	}
	return v
}

func decodeValue(v string) string {
	return strings.TrimPrefix(v, escape)
}

func decodeItem(raw map[string]types.AttributeValue) (backend.Item, error) {
	var item backend.Item
	if len(raw) == 0 {
		return item, nil
	}
	if av, ok := raw[KeyAttribute]; ok {
		if err := attributevalue.Unmarshal(av, &item.Name); err != nil {
			return item, fmt.Errorf("decode %s: %w", KeyAttribute, err)
		}
	}
	names := make([]string, 0, len(raw))
	for n := range raw {
		if n != KeyAttribute {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		var values []string
		if err := attributevalue.Unmarshal(raw[n], &values); err != nil {
			return item, fmt.Errorf("decode %s.%s: %w", item.Name, n, err)
		}
		for _, v := range values {
			item.Attributes = append(item.Attributes, backend.Attribute{Name: n, Value: decodeValue(v)})
		}
	}
	return item, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// partiQL renders sel as a statement over table. Attribute comparisons test set membership.
func partiQL(table string, sel *backend.Select) (string, []types.AttributeValue) {
	var (
		clauses []string
		params  []types.AttributeValue
	)
	param := func(v string) {
		params = append(params, &types.AttributeValueMemberS{Value: v})
	}
	for _, p := range sel.Where {
		if p.ItemName {
			k := quoteIdent(KeyAttribute)
			switch p.Op {
			case backend.Equal:
				clauses = append(clauses, k+" = ?")
				param(p.Value)
			case backend.NotEqual:
				clauses = append(clauses, k+" <> ?")
				param(p.Value)
			case backend.IsNull:
				clauses = append(clauses, k+" IS MISSING")
			case backend.IsNotNull:
				clauses = append(clauses, k+" IS NOT MISSING")
			}
			continue
		}
		n := quoteIdent(p.Name)
		switch p.Op {
		case backend.Equal:
			clauses = append(clauses, "contains("+n+", ?)")
			param(encodeValue(p.Value))
		case backend.NotEqual:
			clauses = append(clauses, n+" IS NOT MISSING AND NOT contains("+n+", ?)")
			param(encodeValue(p.Value))
		case backend.IsNull:
			clauses = append(clauses, n+" IS MISSING")
		case backend.IsNotNull:
			clauses = append(clauses, n+" IS NOT MISSING")
		}
	}
	statement := "SELECT * FROM " + quoteIdent(table)
	if len(clauses) > 0 {
		statement += " WHERE " + strings.Join(clauses, " AND ")
	}
	return statement, params
}

// mapError translates DynamoDB error codes into backend errors, keeping the original in the chain.
func mapError(table string, err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("%w: %s: %w", backend.ErrContainerNotFound, table, err)
		case "ConditionalCheckFailedException":
			return fmt.Errorf("%w: %s: %w", backend.ErrConditionFailed, table, err)
		}
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %s: %w", backend.ErrConditionFailed, table, err)
			}
		}
	}
	return err
}
