package pango

import "github.com/goccy/go-json"

// Source is one logical stream multiplexed into a log.
type Source struct {
	ID   SourceID
	Type string
	URI  string

	// Header is free-form metadata supplied when the source was added.
	Header json.RawMessage

	// TypedAux and TypedFrame are the schemas the frame type was built from.
	TypedAux   json.RawMessage
	TypedFrame json.RawMessage

	// FrameType is the resolved type of every frame of this source.
	FrameType TypeID

	frameFixed bool
	frameSize  uint64
	registered bool
}

// Namespace returns the type namespace private to sources of this type.
func (s *Source) Namespace() string {
	return Namespace(s.Type)
}

// FixedFrameSize reports the width of every frame, and false when frames
// are dynamically sized.
func (s *Source) FixedFrameSize() (uint64, bool) {
	return s.frameSize, s.frameFixed
}

// Registered reports whether frames of the source are delivered by a
// Reader. It is always false on the writer side.
func (s *Source) Registered() bool {
	return s.registered
}

func (s *Source) bindFrameType(t *Type) {
	s.FrameType = t.ID
	s.frameFixed = t.IsFixedSize()
	s.frameSize = t.SizeBytes
}

// SourceObserver is notified when a Reader discovers a source, before any
// frame of that source is read.
type SourceObserver interface {
	NewSource(id SourceID, src *Source)
}

// SourceObserverFunc adapts a function to SourceObserver.
type SourceObserverFunc func(id SourceID, src *Source)

func (f SourceObserverFunc) NewSource(id SourceID, src *Source) {
	f(id, src)
}
