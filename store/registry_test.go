package store_test

import (
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/jacentio/attrmap/store"
)

func TestNewRegistry(t *testing.T) {
	r := store.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d types", r.Len())
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := store.NewRegistry()

	first, err := store.Resolve[Widget](r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := store.Resolve[Widget](r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second {
		t.Error("expected the same descriptor instance on second resolution")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 resolved type, got %d", r.Len())
	}
}

func TestResolve_Concurrent(t *testing.T) {
	r := store.NewRegistry()

	const workers = 32
	results := make([]*store.ItemDescriptor, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Resolve[Account](r)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results[i] = d
		}()
	}
	wg.Wait()

	for i, d := range results {
		if d != results[0] {
			t.Errorf("worker %d got a different descriptor", i)
		}
	}
}

func TestResolve_Widget(t *testing.T) {
	d, err := store.Resolve[Widget](store.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Container != "widgets" {
		t.Errorf("expected container 'widgets', got %q", d.Container)
	}
	if d.Identity.Name != "ID" {
		t.Errorf("expected identity 'ID', got %q", d.Identity.Name)
	}

	// Attributes are sorted by store name; the identity is not among them.
	want := []string{"Count", "Name", "Notes", "Price", "Tags"}
	got := d.FieldNames()
	if len(got) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	tags, ok := d.Attribute("Tags")
	if !ok || !tags.List || tags.Kind != store.KindString {
		t.Errorf("expected Tags to be a list of strings, got %+v", tags)
	}
	count, _ := d.Attribute("Count")
	if !count.Nullable || count.Kind != store.KindInt {
		t.Errorf("expected Count to be a nullable int, got %+v", count)
	}
	notes, _ := d.Attribute("Notes")
	if !notes.Span.Spanned() {
		t.Error("expected Notes to be spanned")
	}
	if d.Version() != nil {
		t.Error("expected no version field")
	}
}

func TestResolve_VersionField(t *testing.T) {
	d, err := store.Resolve[Account](store.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v := d.Version()
	if v == nil || v.Name != "Version" || v.Version != store.VersionConditional {
		t.Errorf("expected conditional version on Version, got %+v", v)
	}
}

// --- Schema validation ---

type noIdentity struct{ Name string }

func (n *noIdentity) Schema() store.Schema[noIdentity] {
	return store.Schema[noIdentity]{Fields: []store.FieldSpec[noIdentity]{
		store.Attr("Name", func(n *noIdentity) *string { return &n.Name }),
	}}
}

type twoIdentities struct{ A, B string }

func (x *twoIdentities) Schema() store.Schema[twoIdentities] {
	return store.Schema[twoIdentities]{Fields: []store.FieldSpec[twoIdentities]{
		store.Attr("A", func(x *twoIdentities) *string { return &x.A }, store.Identity()),
		store.Attr("B", func(x *twoIdentities) *string { return &x.B }, store.Identity()),
	}}
}

type duplicateNames struct{ ID, A, B string }

func (x *duplicateNames) Schema() store.Schema[duplicateNames] {
	return store.Schema[duplicateNames]{Fields: []store.FieldSpec[duplicateNames]{
		store.Attr("ID", func(x *duplicateNames) *string { return &x.ID }, store.Identity()),
		store.Attr("A", func(x *duplicateNames) *string { return &x.A }, store.Rename("same")),
		store.Attr("B", func(x *duplicateNames) *string { return &x.B }, store.Rename("same")),
	}}
}

type spannedList struct {
	ID   string
	Tags []string
}

func (x *spannedList) Schema() store.Schema[spannedList] {
	return store.Schema[spannedList]{Fields: []store.FieldSpec[spannedList]{
		store.Attr("ID", func(x *spannedList) *string { return &x.ID }, store.Identity()),
		store.List("Tags", func(x *spannedList) *[]string { return &x.Tags }, store.Spanned(store.SpanEnabled)),
	}}
}

type stringVersion struct{ ID, Rev string }

func (x *stringVersion) Schema() store.Schema[stringVersion] {
	return store.Schema[stringVersion]{Fields: []store.FieldSpec[stringVersion]{
		store.Attr("ID", func(x *stringVersion) *string { return &x.ID }, store.Identity()),
		store.Attr("Rev", func(x *stringVersion) *string { return &x.Rev }, store.Versioned(store.VersionIncrement)),
	}}
}

type indexedInt struct {
	ID    string
	Count int
}

func (x *indexedInt) Schema() store.Schema[indexedInt] {
	return store.Schema[indexedInt]{Fields: []store.FieldSpec[indexedInt]{
		store.Attr("ID", func(x *indexedInt) *string { return &x.ID }, store.Identity()),
		store.Attr("Count", func(x *indexedInt) *int { return &x.Count }, store.Indexed()),
	}}
}

type shortPadding struct {
	ID    string
	Score int32
}

func (x *shortPadding) Schema() store.Schema[shortPadding] {
	return store.Schema[shortPadding]{Fields: []store.FieldSpec[shortPadding]{
		store.Attr("ID", func(x *shortPadding) *string { return &x.ID }, store.Identity()),
		store.Attr("Score", func(x *shortPadding) *int32 { return &x.Score }, store.Padded(9, 0)),
	}}
}

type negativeOffset struct {
	ID    string
	Score int8
}

func (x *negativeOffset) Schema() store.Schema[negativeOffset] {
	return store.Schema[negativeOffset]{Fields: []store.FieldSpec[negativeOffset]{
		store.Attr("ID", func(x *negativeOffset) *string { return &x.ID }, store.Identity()),
		store.Attr("Score", func(x *negativeOffset) *int8 { return &x.Score }, store.Padded(5, -1)),
	}}
}

type excludedRename struct{ ID, Name string }

func (x *excludedRename) Schema() store.Schema[excludedRename] {
	return store.Schema[excludedRename]{Fields: []store.FieldSpec[excludedRename]{
		store.Attr("ID", func(x *excludedRename) *string { return &x.ID }, store.Identity()),
		store.Attr("Name", func(x *excludedRename) *string { return &x.Name }, store.Exclude(), store.Rename("n")),
	}}
}

type point struct{ X, Y int }

type otherWithoutFormatter struct {
	ID  string
	Loc point
}

func (x *otherWithoutFormatter) Schema() store.Schema[otherWithoutFormatter] {
	return store.Schema[otherWithoutFormatter]{Fields: []store.FieldSpec[otherWithoutFormatter]{
		store.Attr("ID", func(x *otherWithoutFormatter) *string { return &x.ID }, store.Identity()),
		store.Attr("Loc", func(x *otherWithoutFormatter) *point { return &x.Loc }, store.Include()),
	}}
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	r := store.NewRegistry()
	tests := []struct {
		name    string
		resolve func() error
	}{
		{"no identity", func() error { _, err := store.Resolve[noIdentity](r); return err }},
		{"two identities", func() error { _, err := store.Resolve[twoIdentities](r); return err }},
		{"duplicate store names", func() error { _, err := store.Resolve[duplicateNames](r); return err }},
		{"span on list", func() error { _, err := store.Resolve[spannedList](r); return err }},
		{"version on string", func() error { _, err := store.Resolve[stringVersion](r); return err }},
		{"index on int", func() error { _, err := store.Resolve[indexedInt](r); return err }},
		{"padding too short", func() error { _, err := store.Resolve[shortPadding](r); return err }},
		{"negative offset", func() error { _, err := store.Resolve[negativeOffset](r); return err }},
		{"exclude with rename", func() error { _, err := store.Resolve[excludedRename](r); return err }},
		{"other without formatter", func() error { _, err := store.Resolve[otherWithoutFormatter](r); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resolve()
			if !errors.Is(err, store.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
	if r.Len() != 0 {
		t.Errorf("expected failed resolutions not to be cached, got %d", r.Len())
	}
}

// --- Inclusion rules ---

type mixed struct {
	ID     string
	Name   string
	Hidden string
	Loc    point
	Addr   netip.Addr
}

func (x *mixed) Schema() store.Schema[mixed] {
	return store.Schema[mixed]{
		Container: "mixed",
		Fields: []store.FieldSpec[mixed]{
			store.Attr("ID", func(x *mixed) *string { return &x.ID }, store.Identity()),
			store.Attr("Name", func(x *mixed) *string { return &x.Name }, store.Rename("name")),
			store.Attr("Hidden", func(x *mixed) *string { return &x.Hidden }, store.Exclude()),
			store.Attr("Loc", func(x *mixed) *point { return &x.Loc }),
			store.Attr("Addr", func(x *mixed) *netip.Addr { return &x.Addr }),
		},
	}
}

type includeOnly struct{ ID, Kept, Dropped string }

func (x *includeOnly) Schema() store.Schema[includeOnly] {
	return store.Schema[includeOnly]{Fields: []store.FieldSpec[includeOnly]{
		store.Attr("ID", func(x *includeOnly) *string { return &x.ID }, store.Identity()),
		store.Attr("Kept", func(x *includeOnly) *string { return &x.Kept }, store.Include()),
		store.Attr("Dropped", func(x *includeOnly) *string { return &x.Dropped }),
	}}
}

func TestResolve_InclusionRules(t *testing.T) {
	r := store.NewRegistry()

	d, err := store.Resolve[mixed](r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := d.Attribute("Hidden"); ok {
		t.Error("expected excluded field to be unmapped")
	}
	if _, ok := d.Attribute("Loc"); ok {
		t.Error("expected field of kind other to be skipped by default")
	}
	addr, ok := d.Attribute("Addr")
	if !ok || addr.Kind != store.KindText {
		t.Errorf("expected text marshaler to be mapped as text, got %+v", addr)
	}
	name, ok := d.StoredAttribute("name")
	if !ok || name.Name != "Name" {
		t.Error("expected renamed field to resolve by store name")
	}

	only, err := store.Resolve[includeOnly](r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if names := only.FieldNames(); len(names) != 1 || names[0] != "Kept" {
		t.Errorf("expected only the included field, got %v", names)
	}
	if only.Container != "includeOnly" {
		t.Errorf("expected container to default to the type name, got %q", only.Container)
	}
}

func TestRegistry_AdHoc(t *testing.T) {
	r := store.NewRegistry()
	d := r.AdHoc("loose")
	if d != r.AdHoc("loose") {
		t.Error("expected ad hoc descriptors to be cached per container")
	}
	if d == r.AdHoc("other") {
		t.Error("expected a distinct descriptor per container")
	}
	a, ok := d.Attribute("anything")
	if !ok || !a.List || a.Kind != store.KindString {
		t.Errorf("expected any field to map as a list of strings, got %+v", a)
	}
	if r.Len() != 0 {
		t.Error("expected ad hoc descriptors not to count as resolved types")
	}
}

func TestValidateHook(t *testing.T) {
	d, err := store.Resolve[Note](store.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, err := d.ToValues(&Note{ID: "n1"})
	if err != nil {
		t.Fatalf("to values: %v", err)
	}
	if err := d.Validate(store.OpPut, v); !errors.Is(err, errBlankTitle) {
		t.Errorf("expected hook error, got %v", err)
	}
	if err := d.Validate(store.OpGet, v); err != nil {
		t.Errorf("expected no error on get, got %v", err)
	}
}

func TestToValues_BlankIdentity(t *testing.T) {
	d, err := store.Resolve[Widget](store.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := d.ToValues(&Widget{ID: "  "}); !errors.Is(err, store.ErrData) {
		t.Errorf("expected ErrData for a blank identity, got %v", err)
	}
}

func TestFromValues_IgnoresUnmapped(t *testing.T) {
	d, err := store.Resolve[Widget](store.NewRegistry())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v := store.NewValues("w1")
	v.Set("Name", "n")
	v.Set("Unmapped", "ignored")

	var w Widget
	if err := d.FromValues(v, &w); err != nil {
		t.Fatalf("from values: %v", err)
	}
	if w.ID != "w1" || w.Name != "n" {
		t.Errorf("unexpected entity %+v", w)
	}

	v.Set("Price", "not a float")
	if err := d.FromValues(v, &w); !errors.Is(err, store.ErrData) {
		t.Errorf("expected ErrData for an uncoercible value, got %v", err)
	}
}
