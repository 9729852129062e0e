// Package store maps Go entities onto schema-less, multi-valued attribute stores.
//
// An entity type declares its mapping once, as a [Schema] returned from a method on its
// pointer type. The store resolves the schema into an [ItemDescriptor] on first use and
// keeps it for the life of the [Registry].
//
// # Key Features
//
//   - Declarative field mapping with no reflection over struct fields
//   - Values over the attribute size limit spanned across several attributes, optionally
//     compressed and encrypted
//   - Optimistic versioning with conditional puts
//   - A lock-striped entity cache with partial-read merging
//   - Containers created on first use
//   - Batched puts and deletes
//
// # Entities
//
//	type Widget struct {
//	    ID      string
//	    Name    string
//	    Notes   string
//	    Version int64
//	}
//
//	func (w *Widget) Schema() store.Schema[Widget] {
//	    return store.Schema[Widget]{
//	        Container: "widgets",
//	        Fields: []store.FieldSpec[Widget]{
//	            store.Attr("ID", func(w *Widget) *string { return &w.ID }, store.Identity()),
//	            store.Attr("Name", func(w *Widget) *string { return &w.Name }, store.Indexed()),
//	            store.Attr("Notes", func(w *Widget) *string { return &w.Notes }, store.Spanned(store.SpanCompress)),
//	            store.Attr("Version", func(w *Widget) *int64 { return &w.Version }, store.Versioned(store.VersionConditional)),
//	        },
//	    }
//	}
//
// # Usage
//
//	s, err := store.New(client, store.DefaultConfig())
//	widgets, err := store.NewMapper[Widget](s)
//	err = widgets.Put(ctx, &Widget{ID: "42", Name: "sprocket"})
//	w, err := widgets.Get(ctx, "42")
//
// # Layers
//
// [New] composes, outermost first: [Cache], [Provisioner], [Constraints], [Engine], and the
// consistency layer of package backend in front of the raw client.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrConfiguration] - invalid schema or configuration
//   - [ErrData] - a value cannot be formatted, parsed or stored
//   - [ErrNotFound] - entity has no stored attributes
//   - [ErrConcurrentModification] - optimistic version check failed
//   - [ErrConditionalBatch] - conditional versioning in a multi-item put
//   - [ErrUnknownField] - field name not mapped by the descriptor
package store
