// Package memory provides an in-memory attribute store for tests and local use.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/jacentio/attrmap/backend"
)

// DefaultPageSize is the number of items or container names returned per page.
const DefaultPageSize = 100

// attributes maps an attribute name to its distinct values in insertion order.
type attributes map[string][]string

type container map[string]attributes

// Calls counts invocations of each Client method.
type Calls struct {
	CreateContainer int
	ListContainers  int
	Put             int
	BatchPut        int
	Get             int
	Delete          int
	BatchDelete     int
	Query           int

	// ConsistentReads counts Get and Query calls that asked for a consistent read.
	ConsistentReads int
}

// Client is an in-memory backend.Client. It is safe for concurrent use.
type Client struct {
	mu         sync.RWMutex
	containers map[string]container
	pageSize   int
	calls      Calls
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the number of results per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New creates an empty Client.
func New(opts ...Option) *Client {
	c := &Client{
		containers: make(map[string]container),
		pageSize:   DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calls returns a snapshot of the call counters.
func (c *Client) Calls() Calls {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// ResetCalls zeroes the call counters.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = Calls{}
}

// DropContainer removes a container and its items, as an external actor would.
func (c *Client) DropContainer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.containers, name)
}

// CreateContainer creates a container if it doesn't exist.
func (c *Client) CreateContainer(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.CreateContainer++
	if _, ok := c.containers[name]; !ok {
		c.containers[name] = make(container)
	}
	return nil
}

// ListContainers returns container names in lexical order, one page at a time.
func (c *Client) ListContainers(_ context.Context, token string) ([]string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.ListContainers++

	names := make([]string, 0, len(c.containers))
	for name := range c.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return paginate(names, token, c.pageSize)
}

// Put writes one item, checking cond first.
func (c *Client) Put(_ context.Context, name string, item backend.Item, cond *backend.Condition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.Put++

	ctr, ok := c.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}
	if cond != nil && !holds(ctr[item.Name], cond) {
		return fmt.Errorf("%w: %s.%s", backend.ErrConditionFailed, item.Name, cond.Name)
	}
	put(ctr, item)
	return nil
}

// BatchPut writes several items.
func (c *Client) BatchPut(_ context.Context, name string, items []backend.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.BatchPut++

	ctr, ok := c.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}
	for _, item := range items {
		put(ctr, item)
	}
	return nil
}

// Get returns the attributes of one item ordered by name.
func (c *Client) Get(_ context.Context, name, itemName string, names []string, consistent bool) ([]backend.Attribute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.Get++
	if consistent {
		c.calls.ConsistentReads++
	}

	ctr, ok := c.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}
	attrs := ctr[itemName]
	if attrs == nil {
		return nil, nil
	}
	if len(names) > 0 {
		restricted := make(attributes, len(names))
		for _, n := range names {
			if v, ok := attrs[n]; ok {
				restricted[n] = v
			}
		}
		attrs = restricted
	}
	return flatten(attrs), nil
}

// Delete removes attributes or the whole item.
func (c *Client) Delete(_ context.Context, name, itemName string, attrs []backend.Attribute) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.Delete++

	ctr, ok := c.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}
	remove(ctr, itemName, attrs)
	return nil
}

// BatchDelete removes attributes of several items.
func (c *Client) BatchDelete(_ context.Context, name string, items []backend.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.BatchDelete++

	ctr, ok := c.containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}
	for _, item := range items {
		remove(ctr, item.Name, item.Attributes)
	}
	return nil
}

// Query evaluates a select expression over items in item name order. The page size is the
// expression's limit, or the client's page size. Count queries count one page at a time.
func (c *Client) Query(_ context.Context, name, expression, token string, consistent bool) (*backend.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls.Query++
	if consistent {
		c.calls.ConsistentReads++
	}

	sel, err := backend.ParseSelect(expression)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = sel.Container
	}
	ctr, ok := c.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrContainerNotFound, name)
	}

	itemNames := make([]string, 0, len(ctr))
	for n := range ctr {
		itemNames = append(itemNames, n)
	}
	sort.Strings(itemNames)

	var matched []backend.Item
	for _, n := range itemNames {
		item := backend.Item{Name: n, Attributes: flatten(ctr[n])}
		if sel.Match(item) {
			matched = append(matched, item)
		}
	}

	size := c.pageSize
	if sel.Limit > 0 {
		size = sel.Limit
	}
	page, next, err := paginate(matched, token, size)
	if err != nil {
		return nil, err
	}
	if sel.Projection == backend.ProjectCount {
		return &backend.Page{
			Items: []backend.Item{{
				Name:       "Domain",
				Attributes: []backend.Attribute{{Name: backend.CountAttribute, Value: strconv.Itoa(len(page))}},
			}},
			NextToken: next,
		}, nil
	}
	out := &backend.Page{NextToken: next}
	for _, item := range page {
		out.Items = append(out.Items, sel.Project(item))
	}
	return out, nil
}

func paginate[T any](all []T, token string, size int) ([]T, string, error) {
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(all) {
			return nil, "", fmt.Errorf("%w: %q", backend.ErrInvalidToken, token)
		}
		start = n
	}
	end := min(start+size, len(all))
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next, nil
}

func holds(attrs attributes, cond *backend.Condition) bool {
	values := attrs[cond.Name]
	if !cond.Exists {
		return len(values) == 0
	}
	return slices.Contains(values, cond.Value)
}

func put(ctr container, item backend.Item) {
	attrs := ctr[item.Name]
	if attrs == nil {
		attrs = make(attributes)
	}
	replaced := make(map[string]bool)
	for _, a := range item.Attributes {
		if a.Replace && !replaced[a.Name] {
			attrs[a.Name] = nil
			replaced[a.Name] = true
		}
		if !slices.Contains(attrs[a.Name], a.Value) {
			attrs[a.Name] = append(attrs[a.Name], a.Value)
		}
	}
	if len(attrs) > 0 {
		ctr[item.Name] = attrs
	}
}

func remove(ctr container, itemName string, del []backend.Attribute) {
	attrs, ok := ctr[itemName]
	if !ok {
		return
	}
	if len(del) == 0 {
		delete(ctr, itemName)
		return
	}
	for _, a := range del {
		if a.Value == "" {
			delete(attrs, a.Name)
			continue
		}
		attrs[a.Name] = slices.DeleteFunc(attrs[a.Name], func(v string) bool { return v == a.Value })
		if len(attrs[a.Name]) == 0 {
			delete(attrs, a.Name)
		}
	}
	if len(attrs) == 0 {
		delete(ctr, itemName)
	}
}

func flatten(attrs attributes) []backend.Attribute {
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []backend.Attribute
	for _, n := range names {
		for _, v := range attrs[n] {
			out = append(out, backend.Attribute{Name: n, Value: v})
		}
	}
	return out
}
