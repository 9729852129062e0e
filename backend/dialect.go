package backend

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Projection is what a select expression returns for each matching item.
type Projection int

const (
	// ProjectAll returns every attribute.
	ProjectAll Projection = iota

	// ProjectCount returns a single item carrying CountAttribute.
	ProjectCount

	// ProjectItemName returns item names without attributes.
	ProjectItemName

	// ProjectAttributes returns the listed attributes only.
	ProjectAttributes
)

// Comparison is the operator of a predicate.
type Comparison int

const (
	Equal Comparison = iota
	NotEqual
	IsNull
	IsNotNull
)

// Predicate is one condition of a where clause.
type Predicate struct {
	// Name is the attribute compared. Ignored when ItemName is set.
	Name string

	// ItemName compares the item name instead of an attribute.
	ItemName bool

	Op    Comparison
	Value string
}

// Select is a parsed select expression.
//
//	select (* | count(*) | itemName() | a, b, ...) from <container>
//	    [where <predicate> [and <predicate> ...]] [limit <n>]
//
// Names may be quoted with backticks and values are quoted with single quotes, doubling a
// quote inside a value. Keywords are case-insensitive.
type Select struct {
	Projection Projection
	Attributes []string
	Container  string
	Where      []Predicate

	// Limit is the maximum number of items per page. Zero means the store's default.
	Limit int
}

// QuoteName quotes an attribute or container name for a select expression.
func QuoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteValue quotes a value for a select expression.
func QuoteValue(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// Match reports whether item satisfies every predicate. A multi-valued attribute matches a
// comparison when any of its values does.
func (s *Select) Match(item Item) bool {
	for _, p := range s.Where {
		if !p.match(item) {
			return false
		}
	}
	return true
}

func (p Predicate) match(item Item) bool {
	if p.ItemName {
		switch p.Op {
		case Equal:
			return item.Name == p.Value
		case NotEqual:
			return item.Name != p.Value
		case IsNull:
			return false
		default:
			return true
		}
	}
	var found bool
	for _, a := range item.Attributes {
		if a.Name != p.Name {
			continue
		}
		found = true
		switch p.Op {
		case Equal:
			if a.Value == p.Value {
				return true
			}
		case NotEqual:
			if a.Value != p.Value {
				return true
			}
		}
	}
	switch p.Op {
	case IsNull:
		return !found
	case IsNotNull:
		return found
	}
	return false
}

// Project reduces item to what the projection returns. Count projections are not
// per-item and return item unchanged.
func (s *Select) Project(item Item) Item {
	switch s.Projection {
	case ProjectItemName:
		return Item{Name: item.Name}
	case ProjectAttributes:
		out := Item{Name: item.Name}
		for _, a := range item.Attributes {
			if slices.Contains(s.Attributes, a.Name) {
				out.Attributes = append(out.Attributes, a)
			}
		}
		return out
	}
	return item
}

// ParseSelect parses a select expression.
func ParseSelect(expr string) (*Select, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	s, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v in %q", ErrInvalidExpression, err, expr)
	}
	return s, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokName
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
}

func (t token) keyword(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (t token) symbol(s string) bool {
	return t.kind == tokSymbol && t.text == s
}

func lex(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '`' || r == '\'':
			text, n, ok := quoted(rs[i:], r)
			if !ok {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidExpression, expr)
			}
			kind := tokName
			if r == '\'' {
				kind = tokString
			}
			toks = append(toks, token{kind: kind, text: text})
			i += n
		case r == '!' && i+1 < len(rs) && rs[i+1] == '=':
			toks = append(toks, token{kind: tokSymbol, text: "!="})
			i += 2
		case strings.ContainsRune("(),*=", r):
			toks = append(toks, token{kind: tokSymbol, text: string(r)})
			i++
		case wordRune(r):
			start := i
			for i < len(rs) && wordRune(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: string(rs[start:i])})
		default:
			return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, r, expr)
		}
	}
	return toks, nil
}

func wordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' || r == '$'
}

// quoted reads a quoted run starting at rs[0], where a doubled quote is a literal quote.
func quoted(rs []rune, q rune) (string, int, bool) {
	var b strings.Builder
	for i := 1; i < len(rs); i++ {
		if rs[i] != q {
			b.WriteRune(rs[i])
			continue
		}
		if i+1 < len(rs) && rs[i+1] == q {
			b.WriteRune(q)
			i++
			continue
		}
		return b.String(), i + 1, true
	}
	return "", 0, false
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of expression")
	}
	p.pos++
	return t, nil
}

func (p *parser) expectKeyword(kw string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if !t.keyword(kw) {
		return fmt.Errorf("expected %s, found %q", kw, t.text)
	}
	return nil
}

func (p *parser) expectSymbol(s string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if !t.symbol(s) {
		return fmt.Errorf("expected %q, found %q", s, t.text)
	}
	return nil
}

func (p *parser) name() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokWord && t.kind != tokName {
		return "", fmt.Errorf("expected name, found %q", t.text)
	}
	return t.text, nil
}

// itemNameCall consumes "itemName()" if it is next.
func (p *parser) itemNameCall() (bool, error) {
	t, ok := p.peek()
	if !ok || !t.keyword("itemName") || p.pos+1 >= len(p.toks) || !p.toks[p.pos+1].symbol("(") {
		return false, nil
	}
	p.pos += 2
	return true, p.expectSymbol(")")
}

func (p *parser) parse() (*Select, error) {
	s := &Select{}
	if err := p.expectKeyword("select"); err != nil {
		return nil, err
	}
	if err := p.projection(s); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	container, err := p.name()
	if err != nil {
		return nil, err
	}
	s.Container = container

	t, ok := p.peek()
	if ok && t.keyword("where") {
		p.pos++
		for {
			pred, err := p.predicate()
			if err != nil {
				return nil, err
			}
			s.Where = append(s.Where, pred)
			t, ok = p.peek()
			if !ok || !t.keyword("and") {
				break
			}
			p.pos++
		}
	}
	if ok && t.keyword("limit") {
		p.pos++
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(t.text)
		if t.kind != tokWord || err != nil || n < 1 {
			return nil, fmt.Errorf("invalid limit %q", t.text)
		}
		s.Limit = n
	}
	if t, ok := p.peek(); ok {
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
	return s, nil
}

func (p *parser) projection(s *Select) error {
	t, ok := p.peek()
	if !ok {
		return fmt.Errorf("missing projection")
	}
	switch {
	case t.symbol("*"):
		p.pos++
		s.Projection = ProjectAll
		return nil
	case t.keyword("count") && p.pos+1 < len(p.toks) && p.toks[p.pos+1].symbol("("):
		p.pos += 2
		if err := p.expectSymbol("*"); err != nil {
			return err
		}
		s.Projection = ProjectCount
		return p.expectSymbol(")")
	}
	if isItemName, err := p.itemNameCall(); err != nil || isItemName {
		s.Projection = ProjectItemName
		return err
	}
	s.Projection = ProjectAttributes
	for {
		name, err := p.name()
		if err != nil {
			return err
		}
		s.Attributes = append(s.Attributes, name)
		t, ok := p.peek()
		if !ok || !t.symbol(",") {
			return nil
		}
		p.pos++
	}
}

func (p *parser) predicate() (Predicate, error) {
	var pred Predicate
	isItemName, err := p.itemNameCall()
	if err != nil {
		return pred, err
	}
	if isItemName {
		pred.ItemName = true
	} else if pred.Name, err = p.name(); err != nil {
		return pred, err
	}

	t, err := p.next()
	if err != nil {
		return pred, err
	}
	switch {
	case t.symbol("="), t.symbol("!="):
		pred.Op = Equal
		if t.text == "!=" {
			pred.Op = NotEqual
		}
		v, err := p.next()
		if err != nil {
			return pred, err
		}
		if v.kind != tokString {
			return pred, fmt.Errorf("expected quoted value, found %q", v.text)
		}
		pred.Value = v.text
	case t.keyword("is"):
		pred.Op = IsNull
		n, ok := p.peek()
		if ok && n.keyword("not") {
			p.pos++
			pred.Op = IsNotNull
		}
		if err := p.expectKeyword("null"); err != nil {
			return pred, err
		}
	default:
		return pred, fmt.Errorf("unsupported operator %q", t.text)
	}
	return pred, nil
}
