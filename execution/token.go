package execution

import "encoding/base64"

// Token is an opaque, durable completion capability issued by the
// orchestration substrate when a unit of work pauses. Any process holding the
// token may resume the paused unit exactly once; Baton never inspects its
// contents.
//
// A zero-length token is a first-class state meaning "no paused caller":
// completion logic must branch on IsZero and skip silently, which is how the
// same pipeline serves both token-paused and direct callers.
type Token []byte

// previewLen bounds how much of the encoded token appears in logs.
const previewLen = 20

// IsZero reports whether no token is present.
func (t Token) IsZero() bool {
	return len(t) == 0
}

// Preview returns a short, non-reversible base64 prefix of the token for log
// correlation. The full token must never be logged.
func (t Token) Preview() string {
	if t.IsZero() {
		return ""
	}
	enc := base64.StdEncoding.EncodeToString(t)
	if len(enc) > previewLen {
		return enc[:previewLen] + "..."
	}
	return enc
}

// String implements fmt.Stringer with the safe preview so that accidental
// %v/%s formatting of a token cannot leak the capability.
func (t Token) String() string {
	return t.Preview()
}
