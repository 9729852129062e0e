package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/backend/memory"
	"github.com/jacentio/attrmap/store"
)

// --- Test Entity Types ---

// Widget covers scalars, a nullable, a list and a spanned field.
type Widget struct {
	ID    string
	Name  string
	Tags  []string
	Notes string
	Price float64
	Count *int
}

func (w *Widget) Schema() store.Schema[Widget] {
	return store.Schema[Widget]{
		Container: "widgets",
		Fields: []store.FieldSpec[Widget]{
			store.Attr("ID", func(w *Widget) *string { return &w.ID }, store.Identity()),
			store.Attr("Name", func(w *Widget) *string { return &w.Name }, store.Indexed()),
			store.List("Tags", func(w *Widget) *[]string { return &w.Tags }),
			store.Attr("Notes", func(w *Widget) *string { return &w.Notes }, store.Spanned(store.SpanEnabled)),
			store.Attr("Price", func(w *Widget) *float64 { return &w.Price }),
			store.Attr("Count", func(w *Widget) **int { return &w.Count }),
		},
	}
}

// Account is conditionally versioned.
type Account struct {
	ID      string
	Owner   string
	Version int64
}

func (a *Account) Schema() store.Schema[Account] {
	return store.Schema[Account]{
		Container: "accounts",
		Fields: []store.FieldSpec[Account]{
			store.Attr("ID", func(a *Account) *string { return &a.ID }, store.Identity()),
			store.Attr("Owner", func(a *Account) *string { return &a.Owner }),
			store.Attr("Version", func(a *Account) *int64 { return &a.Version }, store.Versioned(store.VersionConditional)),
		},
	}
}

// Ticket is versioned without a condition.
type Ticket struct {
	Number  int32
	Title   string
	Version int64
}

func (t *Ticket) Schema() store.Schema[Ticket] {
	return store.Schema[Ticket]{
		Container: "tickets",
		Fields: []store.FieldSpec[Ticket]{
			store.Attr("Number", func(t *Ticket) *int32 { return &t.Number }, store.Identity(), store.Padded(10, 0)),
			store.Attr("Title", func(t *Ticket) *string { return &t.Title }),
			store.Attr("Version", func(t *Ticket) *int64 { return &t.Version }, store.Versioned(store.VersionIncrement)),
		},
	}
}

var errBlankTitle = errors.New("title is blank")

// Note validates itself.
type Note struct {
	ID    string
	Title string
}

func (n *Note) Schema() store.Schema[Note] {
	return store.Schema[Note]{
		Container: "notes",
		Fields: []store.FieldSpec[Note]{
			store.Attr("ID", func(n *Note) *string { return &n.ID }, store.Identity()),
			store.Attr("Title", func(n *Note) *string { return &n.Title }),
		},
		Validate: func(op store.Op, n *Note) error {
			if op == store.OpPut && n.Title == "" {
				return errBlankTitle
			}
			return nil
		},
	}
}

// Secret is spanned with encryption.
type Secret struct {
	ID   string
	Body string
}

func (s *Secret) Schema() store.Schema[Secret] {
	return store.Schema[Secret]{
		Container: "secrets",
		Fields: []store.FieldSpec[Secret]{
			store.Attr("ID", func(s *Secret) *string { return &s.ID }, store.Identity()),
			store.Attr("Body", func(s *Secret) *string { return &s.Body }, store.Spanned(store.SpanEncrypt|store.SpanCompress)),
		},
	}
}

// --- Test Helpers ---

func newStore(t *testing.T, client backend.Client, mutate ...func(*store.Config)) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := store.New(client, cfg)
	require.NoError(t, err)
	return s
}

func newMapper[T any, PT store.Entity[T]](t *testing.T, s *store.Store) *store.Mapper[T] {
	t.Helper()
	m, err := store.NewMapper[T, PT](s)
	require.NoError(t, err)
	return m
}

// rawValues returns the stored values of one attribute, bypassing every layer.
func rawValues(t *testing.T, c *memory.Client, container, item, name string) []string {
	t.Helper()
	attrs, err := c.Get(context.Background(), container, item, []string{name}, false)
	require.NoError(t, err)
	var out []string
	for _, a := range attrs {
		out = append(out, a.Value)
	}
	return out
}

// recordingClient records batch order and the last put condition.
type recordingClient struct {
	backend.Client

	mu      sync.Mutex
	batches [][]string
	conds   []*backend.Condition
}

func (r *recordingClient) Put(ctx context.Context, container string, item backend.Item, cond *backend.Condition) error {
	r.mu.Lock()
	r.conds = append(r.conds, cond)
	r.mu.Unlock()
	return r.Client.Put(ctx, container, item, cond)
}

func (r *recordingClient) BatchPut(ctx context.Context, container string, items []backend.Item) error {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	r.mu.Lock()
	r.batches = append(r.batches, names)
	r.mu.Unlock()
	return r.Client.BatchPut(ctx, container, items)
}

// cancellingClient cancels cmd while serving the n-th query.
type cancellingClient struct {
	backend.Client

	cmd     *store.SelectCommand
	n       int
	queries int
}

func (c *cancellingClient) Query(ctx context.Context, container, expression, token string, consistent bool) (*backend.Page, error) {
	c.queries++
	if c.queries == c.n {
		c.cmd.Cancel()
	}
	return c.Client.Query(ctx, container, expression, token, consistent)
}

// pausingClient holds the first Get after arm between its fetch and its return.
type pausingClient struct {
	backend.Client

	mu      sync.Mutex
	fetched chan struct{}
	release chan struct{}
}

func (p *pausingClient) arm() (fetched, release chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = make(chan struct{})
	p.release = make(chan struct{})
	return p.fetched, p.release
}

func (p *pausingClient) Get(ctx context.Context, container, itemName string, names []string, consistent bool) ([]backend.Attribute, error) {
	attrs, err := p.Client.Get(ctx, container, itemName, names, consistent)
	p.mu.Lock()
	fetched, release := p.fetched, p.release
	p.fetched, p.release = nil, nil
	p.mu.Unlock()
	if fetched != nil {
		close(fetched)
		<-release
	}
	return attrs, err
}
