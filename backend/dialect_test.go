package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelect(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want *Select
	}{
		{
			name: "all",
			expr: "select * from things",
			want: &Select{Projection: ProjectAll, Container: "things"},
		},
		{
			name: "count with keywords in upper case",
			expr: "SELECT COUNT(*) FROM things WHERE kind = 'a'",
			want: &Select{Projection: ProjectCount, Container: "things", Where: []Predicate{{Name: "kind", Op: Equal, Value: "a"}}},
		},
		{
			name: "item names",
			expr: "select itemName() from `my things` limit 10",
			want: &Select{Projection: ProjectItemName, Container: "my things", Limit: 10},
		},
		{
			name: "attribute list",
			expr: "select a, `b c`, d_1 from things",
			want: &Select{Projection: ProjectAttributes, Attributes: []string{"a", "b c", "d_1"}, Container: "things"},
		},
		{
			name: "predicates",
			expr: "select * from t where itemName() = 'x' and a != 'it''s' and b is null and c is not null",
			want: &Select{Projection: ProjectAll, Container: "t", Where: []Predicate{
				{ItemName: true, Op: Equal, Value: "x"},
				{Name: "a", Op: NotEqual, Value: "it's"},
				{Name: "b", Op: IsNull},
				{Name: "c", Op: IsNotNull},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelect(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSelect_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"select",
		"select * things",
		"select * from",
		"select * from t where",
		"select * from t where a",
		"select * from t where a = b",
		"select * from t where a < 'b'",
		"select * from t where a = 'unterminated",
		"select * from t limit 0",
		"select * from t limit x",
		"select * from t trailing",
		"select count(a) from t",
		"delete from t",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseSelect(expr)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'it''s'", QuoteValue("it's"))
	assert.Equal(t, "`a``b`", QuoteName("a`b"))

	s, err := ParseSelect("select * from " + QuoteName("a`b") + " where x = " + QuoteValue("it's"))
	require.NoError(t, err)
	assert.Equal(t, "a`b", s.Container)
	assert.Equal(t, "it's", s.Where[0].Value)
}

func TestSelect_Match(t *testing.T) {
	item := Item{Name: "apple", Attributes: []Attribute{
		{Name: "color", Value: "red"},
		{Name: "color", Value: "green"},
	}}
	tests := []struct {
		pred Predicate
		want bool
	}{
		{Predicate{Name: "color", Op: Equal, Value: "green"}, true},
		{Predicate{Name: "color", Op: Equal, Value: "blue"}, false},
		{Predicate{Name: "color", Op: NotEqual, Value: "red"}, true},
		{Predicate{Name: "shape", Op: NotEqual, Value: "round"}, false},
		{Predicate{Name: "shape", Op: IsNull}, true},
		{Predicate{Name: "color", Op: IsNotNull}, true},
		{Predicate{ItemName: true, Op: Equal, Value: "apple"}, true},
		{Predicate{ItemName: true, Op: NotEqual, Value: "apple"}, false},
	}
	for _, tt := range tests {
		s := &Select{Where: []Predicate{tt.pred}}
		assert.Equal(t, tt.want, s.Match(item), "%+v", tt.pred)
	}
}

func TestSelect_Project(t *testing.T) {
	item := Item{Name: "a", Attributes: []Attribute{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}}}

	assert.Equal(t, item, (&Select{Projection: ProjectAll}).Project(item))
	assert.Equal(t, Item{Name: "a"}, (&Select{Projection: ProjectItemName}).Project(item))
	assert.Equal(t,
		Item{Name: "a", Attributes: []Attribute{{Name: "y", Value: "2"}}},
		(&Select{Projection: ProjectAttributes, Attributes: []string{"y"}}).Project(item))
}
