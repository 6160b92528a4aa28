// Package reader detects the input dialect and adapts it to the
// normalized tag event stream the query engine consumes.
//
// Every adapter emits, in order: OpenTag(name), zero or more
// Attr(name, value), optional character data, then the matching
// CloseTag(name). Self-terminating tags emit OpenTag/CloseTag with no
// intervening data.
package reader

// Handler consumes the normalized event stream. The query engine's
// Parser satisfies it.
type Handler interface {
	OpenTag(name string)
	Attr(name, value string)
	Text(data string)
	CloseTag(name string)

	// Stopped reports whether the consumer wants no further events;
	// adapters poll it between records.
	Stopped() bool
}
