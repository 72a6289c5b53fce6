package protocol

import (
	"github.com/switchpoint/msc/internal/encryption"
)

// Wrap encrypts a control line under the channel's session key and wraps
// it in an ENC envelope.
func Wrap(key, iv []byte, line string) (string, error) {
	enc, err := encryption.EncryptString(key, iv, line)
	if err != nil {
		return "", err
	}
	return PrefixEncrypted + enc, nil
}

// Unwrap decrypts the argument of an ENC envelope back into the original
// control line.
func Unwrap(key, iv []byte, arg string) (string, error) {
	return encryption.DecryptString(key, iv, arg)
}
