package helpers

import "runtime"

// WipeBytes overwrites b with zeros. Used when session key material is
// discarded so decrypted AES keys do not linger on the heap.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Ensure the compiler/runtime keeps 'b' alive until after the overwrite.
	runtime.KeepAlive(b)
}

// ConcatBytes joins chunks into a single freshly allocated buffer.
func ConcatBytes(chunks ...[]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, total)

	i := 0
	for _, c := range chunks {
		i += copy(out[i:], c)
	}
	return out
}
