package piv

import (
	"golang.org/x/crypto/cryptobyte"
)

// withSecret hands f a zeroed buffer of n bytes and wipes it once f returns,
// whatever the outcome (including a panic unwinding through f).
func withSecret(n int, f func(buf []byte) error) error {
	buf := make([]byte, n)
	defer clear(buf)
	return f(buf)
}

// withSecretPayload builds a payload of at most n bytes into a scoped arena
// and hands the result to use. Both the arena and the built bytes are wiped
// on return, so a builder that outgrew the arena leaks nothing either.
func withSecretPayload(n int, build func(b *cryptobyte.Builder), use func(payload []byte) error) error {
	return withSecret(n, func(arena []byte) error {
		b := cryptobyte.NewBuilder(arena[:0])
		build(b)

		payload, err := b.Bytes()
		if err != nil {
			return classify(err)
		}
		defer clear(payload)

		return use(payload)
	})
}

// padPIN writes pin left-aligned into dst and fills the rest with padding.
func padPIN(dst, pin []byte, padding byte) {
	for i := range dst {
		dst[i] = padding
	}
	copy(dst, pin)
}
