// Package pango implements the pango packet log format.
//
// A pango log multiplexes any number of independently typed sources into a
// single append-only byte stream. Every packet is preceded by a fixed-width
// tag. Frames of fixed-size sources carry no length prefix; frames of
// dynamically sized sources carry a compressed-integer length so a reader
// can skip them without understanding their schema.
//
//	"PANGO"
//	HDR\n  <json header>\n
//	SRC\n  <json source record>\n          (any number, anywhere below)
//	FRM\n  <varint src> [<varint len>] <payload>
//	SYN\n  (emitted in runs of ten)
//	STA\n  <json stats>\n
package pango

// Format constants must never change.
const (
	// Magic is the literal at the start of every log.
	Magic = "PANGO"

	// TagLength is the width of every packet tag.
	TagLength = 4

	// Endian is the byte order declared in every file header.
	Endian = "little_endian"

	// FrameAlias is the per-namespace name bound to a source's frame type.
	FrameAlias = "_frame_"

	// NamespaceSeparator is appended to a source type to form its namespace.
	NamespaceSeparator = "::"

	// SyncRunLength is how many sync tags WriteSync emits and Resync expects.
	SyncRunLength = 10
)

// Tag identifies the kind of packet that follows it.
type Tag [TagLength]byte

var (
	TagHeader      = Tag{'H', 'D', 'R', '\n'}
	TagAddSource   = Tag{'S', 'R', 'C', '\n'}
	TagSourceFrame = Tag{'F', 'R', 'M', '\n'}
	TagStats       = Tag{'S', 'T', 'A', '\n'}
	TagSync        = Tag{'S', 'Y', 'N', '\n'}

	// TagEnd is never written. The reader substitutes it when no further
	// tag can be read.
	TagEnd = Tag{'E', 'N', 'D', '\n'}
)

func (t Tag) String() string {
	return string(t[:TagLength-1])
}

// SourceID identifies a source within one log. IDs are dense and assigned
// in registration order starting at zero.
type SourceID uint32

// Namespace returns the type namespace used for sources of the given type.
func Namespace(sourceType string) string {
	return sourceType + NamespaceSeparator
}
