// Package protocol owns the binary encoding of archived values.
//
// Ownership boundary:
// - frame/header primitives (magic, version, kind, payload checksum)
// - tlv payload primitives
package protocol
