// Package impair exposes deliberate protocol-fault knobs for interop
// and negative testing: omitting a payload, sending an empty one,
// duplicating one, skipping an expected notify, corrupting encrypted
// data, adding an unknown critical payload, or bypassing integrity
// checks entirely. A production build constructs Default, whose every
// field is its no-op value; nothing here is ever turned on by this
// module's own code.
package impair

// Impair is checked only where a caller consults a field explicitly,
// never implicitly. Field names match the behaviors spec.md §6
// calls out by name.
type Impair struct {
	OmitPayload    map[string]bool
	EmitEmpty      map[string]bool
	EmitDuplicate  map[string]bool

	InjectArbitraryByte bool

	SkipHashNotify     bool
	SuppressRetransmit bool

	CorruptEncrypted bool

	AddUnknownCriticalPayload bool

	BypassIntegrity bool
}

// Default is the production no-op value: every switch off, matching
// the original implementation's "production builds configure all
// fields to their no-op defaults" convention.
func Default() *Impair {
	return &Impair{
		OmitPayload:   map[string]bool{},
		EmitEmpty:     map[string]bool{},
		EmitDuplicate: map[string]bool{},
	}
}

// ShouldOmit reports whether payload kind should be dropped from an
// outgoing message before it is sent.
func (im *Impair) ShouldOmit(payload string) bool {
	return im != nil && im.OmitPayload[payload]
}

// ShouldEmitEmpty reports whether payload kind should be sent with an
// empty body instead of its real contents.
func (im *Impair) ShouldEmitEmpty(payload string) bool {
	return im != nil && im.EmitEmpty[payload]
}

// ShouldDuplicate reports whether payload kind should be appended to
// the outgoing chain twice.
func (im *Impair) ShouldDuplicate(payload string) bool {
	return im != nil && im.EmitDuplicate[payload]
}
