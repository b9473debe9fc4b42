package op

import (
	"crypto/sha256"
	"encoding/hex"
)

// digestDomain separates pipeline digests from any other sha256 use.
const digestDomain = "operon/pipeline/v1"

// Digest returns a hex sha256 over the node's canonical encoding,
// domain separated so the hash can never collide with hashes of other
// content. Pipelines that close over functions digest by function
// identity; their digests are stable within one process, which is
// what plan caching needs.
func Digest(n Node) string {
	h := sha256.New()
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	h.Write(Canonical(n))
	return hex.EncodeToString(h.Sum(nil))
}
