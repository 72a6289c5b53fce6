package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchpoint/msc/internal/encryption"
)

func TestParse(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		arg  string
	}{
		{"PUBLIC_KEY:abc123", KindPublicKey, "abc123"},
		{"AES_KEY:def==", KindAESKey, "def=="},
		{"IV:ghi", KindIV, "ghi"},
		{"READY_FOR_ENCRYPTED", KindReady, ""},
		{"ENC:payload", KindEncrypted, "payload"},
		{"START_CALL:01223456789", KindStartCall, "01223456789"},
		{"END_CALL:01223456789", KindEndCall, "01223456789"},
		{"TERMINATE_CALL:Insufficient Balance", KindTerminate, "Insufficient Balance"},
		{"START_CALL:01223456789\r", KindStartCall, "01223456789"},
		{"HOLD_CALL:01223456789", KindUnknown, "HOLD_CALL:01223456789"},
		{"", KindUnknown, ""},
	}
	for _, c := range cases {
		msg := Parse(c.line)
		assert.Equal(t, c.kind, msg.Kind, "line %q", c.line)
		assert.Equal(t, c.arg, msg.Arg, "line %q", c.line)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key, err := encryption.GenerateAESKey()
	require.NoError(t, err)
	iv, err := encryption.GenerateIV()
	require.NoError(t, err)

	line := StartCall("01112223333")
	wrapped, err := Wrap(key, iv, line)
	require.NoError(t, err)

	msg := Parse(wrapped)
	require.Equal(t, KindEncrypted, msg.Kind)

	plain, err := Unwrap(key, iv, msg.Arg)
	require.NoError(t, err)
	assert.Equal(t, line, plain)
}

func TestVerbBuilders(t *testing.T) {
	assert.Equal(t, "START_CALL:0100", StartCall("0100"))
	assert.Equal(t, "END_CALL:0100", EndCall("0100"))
	assert.Equal(t, "TERMINATE_CALL:User Not Found", TerminateCall("User Not Found"))
}
