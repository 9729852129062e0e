// Package backend defines the contract for schema-less, multi-valued attribute stores and the
// consistency layer that sits directly in front of them.
//
// An attribute store holds named containers. A container holds items, each identified by an
// item name and carrying any number of attributes. An attribute name may carry several
// string values at once.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrContainerNotFound is returned when an operation targets a container that doesn't exist.
	ErrContainerNotFound = errors.New("backend: container not found")

	// ErrConditionFailed is returned when a conditional put's precondition does not hold.
	ErrConditionFailed = errors.New("backend: conditional check failed")

	// ErrConditionalWriteLogged is returned for a conditional write inside a write-log scope.
	ErrConditionalWriteLogged = errors.New("backend: conditional write cannot be logged")

	// ErrInvalidExpression is returned when a select expression cannot be parsed.
	ErrInvalidExpression = errors.New("backend: invalid select expression")

	// ErrInvalidToken is returned when a pagination token is not recognized.
	ErrInvalidToken = errors.New("backend: invalid next token")
)

// CountAttribute is the attribute name under which count(*) queries report their result.
const CountAttribute = "Count"

// Attribute is a single name/value pair.
type Attribute struct {
	Name  string
	Value string

	// Replace discards existing values of Name before this value is written. When several
	// attributes share a name in one put, the first one with Replace set clears the old values
	// and the rest add to the new set.
	Replace bool
}

// Item is a named set of attributes.
type Item struct {
	Name       string
	Attributes []Attribute
}

// Condition is a precondition on a single attribute, checked atomically with a put.
type Condition struct {
	Name string

	// Value is the expected current value when Exists is true.
	Value string

	// Exists is false to require that the attribute is absent.
	Exists bool
}

// Page is one page of query results.
type Page struct {
	Items []Item

	// NextToken resumes the query. Empty when there are no more pages.
	NextToken string
}

// Client is the raw attribute store.
type Client interface {
	// CreateContainer creates a container. Creating an existing container is a no-op.
	CreateContainer(ctx context.Context, name string) error

	// ListContainers returns one page of container names.
	ListContainers(ctx context.Context, token string) (names []string, next string, err error)

	// Put writes attributes of one item. A non-nil cond must hold or ErrConditionFailed is
	// returned and nothing is written.
	Put(ctx context.Context, container string, item Item, cond *Condition) error

	// BatchPut writes several items.
	BatchPut(ctx context.Context, container string, items []Item) error

	// Get returns the attributes of one item, restricted to names when non-empty. A missing
	// item yields no attributes and no error.
	Get(ctx context.Context, container, itemName string, names []string, consistent bool) ([]Attribute, error)

	// Delete removes attributes of one item. No attributes removes the whole item. An
	// attribute with an empty value removes every value of that name; otherwise only the
	// given value is removed.
	Delete(ctx context.Context, container, itemName string, attrs []Attribute) error

	// BatchDelete removes attributes of several items with the same rules as Delete.
	BatchDelete(ctx context.Context, container string, items []Item) error

	// Query runs a select expression and returns one page of results.
	Query(ctx context.Context, container, expression, token string, consistent bool) (*Page, error)
}

// ListAllContainers follows ListContainers tokens until every name has been returned.
func ListAllContainers(ctx context.Context, c Client) ([]string, error) {
	var (
		all   []string
		token string
	)
	for {
		names, next, err := c.ListContainers(ctx, token)
		if err != nil {
			return nil, err
		}
		all = append(all, names...)
		if next == "" {
			return all, nil
		}
		token = next
	}
}
