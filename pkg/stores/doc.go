// Package stores provides the persistence layer for booktrans.
// It implements two independent SQLite-backed stores: the series-wide
// glossary database (one per series root, shared by all volumes) and the
// per-volume translation state database (one per volume, under the volume's
// .state directory). Both use WAL mode so concurrent volume runs can read
// the glossary while a single writer updates it.
package stores
