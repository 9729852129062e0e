// Package backendtest holds a conformance suite that every backend.Client implementation runs.
package backendtest

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/attrmap/backend"
)

// Factory returns a fresh client and a container name unique to the calling test. The
// container must not exist yet.
type Factory func(t *testing.T) (backend.Client, string)

// Run runs the conformance suite.
func Run(t *testing.T, newClient Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, c backend.Client, container string)
	}{
		{"CreateContainer", testCreateContainer},
		{"MissingContainer", testMissingContainer},
		{"PutGet", testPutGet},
		{"Replace", testReplace},
		{"Condition", testCondition},
		{"Delete", testDelete},
		{"Batch", testBatch},
		{"QueryPredicates", testQueryPredicates},
		{"QueryProjection", testQueryProjection},
		{"QueryPagination", testQueryPagination},
		{"QueryCount", testQueryCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, container := newClient(t)
			tt.fn(t, c, container)
		})
	}
}

func values(attrs []backend.Attribute, name string) []string {
	var out []string
	for _, a := range attrs {
		if a.Name == name {
			out = append(out, a.Value)
		}
	}
	sort.Strings(out)
	return out
}

func attr(name, value string) backend.Attribute {
	return backend.Attribute{Name: name, Value: value}
}

func replace(name, value string) backend.Attribute {
	return backend.Attribute{Name: name, Value: value, Replace: true}
}

func testCreateContainer(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))
	require.NoError(t, c.CreateContainer(ctx, container), "create is idempotent")

	names, err := backend.ListAllContainers(ctx, c)
	require.NoError(t, err)
	assert.Contains(t, names, container)
}

func testMissingContainer(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	item := backend.Item{Name: "a", Attributes: []backend.Attribute{attr("x", "1")}}

	assert.ErrorIs(t, c.Put(ctx, container, item, nil), backend.ErrContainerNotFound)
	_, err := c.Get(ctx, container, "a", nil, true)
	assert.ErrorIs(t, err, backend.ErrContainerNotFound)
	assert.ErrorIs(t, c.Delete(ctx, container, "a", nil), backend.ErrContainerNotFound)
	_, err = c.Query(ctx, container, "select * from "+backend.QuoteName(container), "", true)
	assert.ErrorIs(t, err, backend.ErrContainerNotFound)
}

func testPutGet(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))

	item := backend.Item{Name: "item-1", Attributes: []backend.Attribute{
		replace("color", "red"),
		attr("tags", "a"),
		attr("tags", "b"),
		attr("tags", "b"),
		replace("size", "10"),
	}}
	require.NoError(t, c.Put(ctx, container, item, nil))

	attrs, err := c.Get(ctx, container, "item-1", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"red"}, values(attrs, "color"))
	assert.Equal(t, []string{"a", "b"}, values(attrs, "tags"), "values are distinct")
	assert.Equal(t, []string{"10"}, values(attrs, "size"))

	attrs, err = c.Get(ctx, container, "item-1", []string{"tags"}, true)
	require.NoError(t, err)
	assert.Len(t, attrs, 2)
	assert.Empty(t, values(attrs, "color"))

	attrs, err = c.Get(ctx, container, "missing", nil, true)
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func testReplace(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))

	require.NoError(t, c.Put(ctx, container, backend.Item{Name: "i", Attributes: []backend.Attribute{
		attr("list", "1"), attr("list", "2"), attr("keep", "k"),
	}}, nil))
	require.NoError(t, c.Put(ctx, container, backend.Item{Name: "i", Attributes: []backend.Attribute{
		replace("list", "3"), attr("list", "4"),
	}}, nil))

	attrs, err := c.Get(ctx, container, "i", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, values(attrs, "list"))
	assert.Equal(t, []string{"k"}, values(attrs, "keep"))

	require.NoError(t, c.Put(ctx, container, backend.Item{Name: "i", Attributes: []backend.Attribute{
		attr("list", "5"),
	}}, nil))
	attrs, err = c.Get(ctx, container, "i", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4", "5"}, values(attrs, "list"), "without replace values accumulate")
}

func testCondition(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))

	put := func(version string, cond *backend.Condition) error {
		return c.Put(ctx, container, backend.Item{Name: "v", Attributes: []backend.Attribute{
			replace("version", version),
		}}, cond)
	}

	require.NoError(t, put("1", &backend.Condition{Name: "version"}))
	assert.ErrorIs(t, put("1", &backend.Condition{Name: "version"}), backend.ErrConditionFailed)
	require.NoError(t, put("2", &backend.Condition{Name: "version", Value: "1", Exists: true}))
	assert.ErrorIs(t, put("3", &backend.Condition{Name: "version", Value: "1", Exists: true}), backend.ErrConditionFailed)

	attrs, err := c.Get(ctx, container, "v", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, values(attrs, "version"))
}

func testDelete(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))
	require.NoError(t, c.Put(ctx, container, backend.Item{Name: "d", Attributes: []backend.Attribute{
		attr("a", "1"), attr("a", "2"), attr("b", "x"), attr("c", "y"),
	}}, nil))

	require.NoError(t, c.Delete(ctx, container, "d", []backend.Attribute{attr("a", "1")}))
	attrs, err := c.Get(ctx, container, "d", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, values(attrs, "a"))

	require.NoError(t, c.Delete(ctx, container, "d", []backend.Attribute{{Name: "b"}}))
	attrs, err = c.Get(ctx, container, "d", nil, true)
	require.NoError(t, err)
	assert.Empty(t, values(attrs, "b"))
	assert.Equal(t, []string{"y"}, values(attrs, "c"))

	require.NoError(t, c.Delete(ctx, container, "d", nil))
	attrs, err = c.Get(ctx, container, "d", nil, true)
	require.NoError(t, err)
	assert.Empty(t, attrs)

	require.NoError(t, c.Delete(ctx, container, "never-existed", nil))
}

func testBatch(t *testing.T, c backend.Client, container string) {
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))

	var items []backend.Item
	for i := 0; i < 5; i++ {
		items = append(items, backend.Item{
			Name:       "b" + strconv.Itoa(i),
			Attributes: []backend.Attribute{replace("n", strconv.Itoa(i)), replace("x", "y")},
		})
	}
	require.NoError(t, c.BatchPut(ctx, container, items))
	for i := 0; i < 5; i++ {
		attrs, err := c.Get(ctx, container, "b"+strconv.Itoa(i), nil, true)
		require.NoError(t, err)
		assert.Equal(t, []string{strconv.Itoa(i)}, values(attrs, "n"))
	}

	require.NoError(t, c.BatchDelete(ctx, container, []backend.Item{
		{Name: "b0"},
		{Name: "b1", Attributes: []backend.Attribute{{Name: "x"}}},
	}))
	attrs, err := c.Get(ctx, container, "b0", nil, true)
	require.NoError(t, err)
	assert.Empty(t, attrs)
	attrs, err = c.Get(ctx, container, "b1", nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, values(attrs, "n"))
	assert.Empty(t, values(attrs, "x"))
}

func seed(t *testing.T, c backend.Client, container string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.CreateContainer(ctx, container))
	rows := []backend.Item{
		{Name: "apple", Attributes: []backend.Attribute{attr("kind", "fruit"), attr("color", "red"), attr("color", "green")}},
		{Name: "banana", Attributes: []backend.Attribute{attr("kind", "fruit"), attr("color", "yellow")}},
		{Name: "carrot", Attributes: []backend.Attribute{attr("kind", "vegetable"), attr("color", "orange")}},
		{Name: "salt", Attributes: []backend.Attribute{attr("kind", "mineral")}},
	}
	for _, item := range rows {
		require.NoError(t, c.Put(ctx, container, item, nil))
	}
}

func queryAll(t *testing.T, c backend.Client, container, expr string) []backend.Item {
	t.Helper()
	var (
		items []backend.Item
		token string
	)
	for {
		page, err := c.Query(context.Background(), container, expr, token, true)
		require.NoError(t, err)
		items = append(items, page.Items...)
		if page.NextToken == "" {
			return items
		}
		token = page.NextToken
	}
}

func names(items []backend.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Name)
	}
	sort.Strings(out)
	return out
}

func testQueryPredicates(t *testing.T, c backend.Client, container string) {
	seed(t, c, container)
	from := "select * from " + backend.QuoteName(container)

	tests := []struct {
		where string
		want  []string
	}{
		{"", []string{"apple", "banana", "carrot", "salt"}},
		{" where kind = 'fruit'", []string{"apple", "banana"}},
		{" where color = 'green'", []string{"apple"}},
		{" where kind = 'fruit' and color = 'yellow'", []string{"banana"}},
		{" where color is null", []string{"salt"}},
		{" where color is not null", []string{"apple", "banana", "carrot"}},
		{" where itemName() = 'carrot'", []string{"carrot"}},
		{" where kind != 'fruit'", []string{"carrot", "salt"}},
	}
	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			assert.Equal(t, tt.want, names(queryAll(t, c, container, from+tt.where)))
		})
	}
}

func testQueryProjection(t *testing.T, c backend.Client, container string) {
	seed(t, c, container)
	q := backend.QuoteName(container)

	items := queryAll(t, c, container, "select color from "+q+" where itemName() = 'apple'")
	require.Len(t, items, 1)
	assert.Equal(t, []string{"green", "red"}, values(items[0].Attributes, "color"))
	assert.Empty(t, values(items[0].Attributes, "kind"))

	items = queryAll(t, c, container, "select itemName() from "+q+" where kind = 'fruit'")
	assert.Equal(t, []string{"apple", "banana"}, names(items))
	for _, item := range items {
		assert.Empty(t, item.Attributes)
	}
}

func testQueryPagination(t *testing.T, c backend.Client, container string) {
	seed(t, c, container)
	expr := "select * from " + backend.QuoteName(container) + " limit 1"

	page, err := c.Query(context.Background(), container, expr, "", true)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(page.Items), 1)
	assert.NotEmpty(t, page.NextToken)

	assert.Equal(t, []string{"apple", "banana", "carrot", "salt"}, names(queryAll(t, c, container, expr)))
}

func testQueryCount(t *testing.T, c backend.Client, container string) {
	seed(t, c, container)
	q := backend.QuoteName(container)

	count := func(expr string) int {
		total := 0
		for _, item := range queryAll(t, c, container, expr) {
			for _, v := range values(item.Attributes, backend.CountAttribute) {
				n, err := strconv.Atoi(v)
				require.NoError(t, err)
				total += n
			}
		}
		return total
	}
	assert.Equal(t, 4, count("select count(*) from "+q))
	assert.Equal(t, 4, count("select count(*) from "+q+" limit 1"), "partial counts sum across pages")
	assert.Equal(t, 2, count("select count(*) from "+q+" where kind = 'fruit'"))
}
