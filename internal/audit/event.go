package audit

// Event is one entry of the ordered event stream. Payload holds the
// variant data attached by Kind: *Prototype for new_prototype, a ctype
// id/descriptor pair for new_ctypeid, *Trace for trace_stop, *TraceAbort
// for trace_abort, and nil for lex.
type Event struct {
	Nanotime uint64
	Kind     string
	Payload  interface{}

	// Prev links to the event immediately preceding this one in the
	// record stream, or nil for the first event.
	Prev *Event
}

// CtypeEvent is the new_ctypeid payload: the interned ctype id and its
// textual descriptor.
type CtypeEvent struct {
	ID   int64
	Desc string
}
