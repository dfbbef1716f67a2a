package store

// Tier names the store that served an operation.
type Tier string

const (
	// TierPrimary means the primary durable store served the call.
	TierPrimary Tier = "primary"
	// TierFallback means the local file store served the call.
	TierFallback Tier = "fallback"
	// TierNone means no tier could serve the call.
	TierNone Tier = "none"
)

// Envelope is the result of every Coordinator operation. Exactly one of
// three shapes is returned: served by primary, served by fallback, or failed
// (Tier == TierNone with Err set). A served read with a nil Document is a
// normal not-found result, not a failure.
type Envelope struct {
	Tier     Tier
	Document *Document
	Err      error
}

// OK reports whether some tier served the operation.
func (e Envelope) OK() bool {
	return e.Err == nil
}

// Found reports whether the operation succeeded and produced a document.
func (e Envelope) Found() bool {
	return e.Err == nil && e.Document != nil
}

// Fallback reports whether the local fallback store served the operation.
func (e Envelope) Fallback() bool {
	return e.Err == nil && e.Tier == TierFallback
}

func failed(err error) Envelope {
	return Envelope{Tier: TierNone, Err: err}
}
