package voice

import (
	"encoding/binary"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchpoint/msc/internal/encryption"
	"github.com/switchpoint/msc/internal/registry"
)

type captureSink struct {
	mu     sync.Mutex
	played [][]byte
}

func (c *captureSink) Play(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.played = append(c.played, buf)
	return nil
}

func (c *captureSink) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.played
}

func testChannel(t *testing.T) *registry.SecureChannel {
	t.Helper()
	key, err := encryption.GenerateAESKey()
	require.NoError(t, err)
	iv, err := encryption.GenerateIV()
	require.NoError(t, err)
	return &registry.SecureChannel{Key: key, IV: iv}
}

func admitted(t *testing.T, reg *registry.Registry, msisdn, addr string) *registry.Session {
	t.Helper()
	reg.SeedBalance(msisdn, 100)
	s, err := reg.Admit(msisdn, addr, 5011, 5.0)
	require.NoError(t, err)
	return s
}

func pcmChunk(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + 1) // non-zero, looks like audio
	}
	return buf
}

func TestRouterRoutesEncryptedPacket(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	r := NewRouter(nil, reg, sink)

	sess := admitted(t, reg, "01223456789", "192.168.1.7")
	ch := testChannel(t)
	reg.PutChannel("01223456789", ch)

	pcm := pcmChunk(160)
	frame, err := encryption.EncryptFrame(ch.Key, ch.IV, pcm)
	require.NoError(t, err)

	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 40000}
	r.handlePacket(src, frame)

	require.Len(t, sink.all(), 1)
	assert.Equal(t, pcm, sink.all()[0])
	assert.Equal(t, pcm, sess.Recording())
	assert.Equal(t, 40000, sess.Port())
}

func TestRouterLegacyPlaintextHeuristic(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	r := NewRouter(nil, reg, sink)

	sess := admitted(t, reg, "01223456789", "192.168.1.7")
	reg.PutChannel("01223456789", testChannel(t))
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 40000}

	// Undecryptable but clearly audio: forwarded as-is.
	legacy := pcmChunk(160)
	r.handlePacket(src, legacy)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, legacy, sink.all()[0])

	// Undecryptable and mostly zero: dropped.
	quiet := make([]byte, 64)
	quiet[0] = 1
	r.handlePacket(src, quiet)
	assert.Len(t, sink.all(), 1)
	assert.Equal(t, legacy, sess.Recording())
}

func TestRouterNoKeyPlaysPlaintext(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	r := NewRouter(nil, reg, sink)

	admitted(t, reg, "01223456789", "192.168.1.7")
	pcm := pcmChunk(320)
	r.handlePacket(&net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 40000}, pcm)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, pcm, sink.all()[0])
}

func TestRouterDropsUnmatchedSource(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	r := NewRouter(nil, reg, sink)

	admitted(t, reg, "01223456789", "192.168.1.7")
	r.handlePacket(&net.UDPAddr{IP: net.ParseIP("10.9.9.9"), Port: 40000}, pcmChunk(160))
	assert.Empty(t, sink.all())
}

func TestLooksLikeAudio(t *testing.T) {
	assert.True(t, looksLikeAudio(pcmChunk(100)))
	assert.False(t, looksLikeAudio(make([]byte, 100)))
	assert.False(t, looksLikeAudio(pcmChunk(8)), "too short to judge")
}

func TestSenderFragmentsAndEncrypts(t *testing.T) {
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer recv.Close()

	conn, err := net.Dial("udp", recv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	ch := testChannel(t)
	sender := NewSender(conn, ch.Key, ch.IV)

	pcm := pcmChunk(ChunkSize + 500)
	require.NoError(t, sender.Send(pcm))

	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, ChunkSize*2)
	var got []byte
	for i := 0; i < 2; i++ {
		n, _, err := recv.ReadFromUDP(buf)
		require.NoError(t, err)
		chunk, err := encryption.DecryptFrame(ch.Key, ch.IV, buf[:n])
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	assert.Equal(t, pcm, got)
}

func TestSenderPlaintextWithoutKey(t *testing.T) {
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer recv.Close()

	conn, err := net.Dial("udp", recv.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	sender := NewSender(conn, nil, nil)
	pcm := pcmChunk(200)
	require.NoError(t, sender.Send(pcm))

	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, ChunkSize*2)
	n, _, err := recv.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, pcm, buf[:n])
}

func TestRecorderWritesWAV(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	require.NoError(t, err)

	start := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	pcm := pcmChunk(4096)
	path, err := rec.WriteRecording("01223456789", start, pcm)
	require.NoError(t, err)
	assert.Contains(t, path, "voice_call_msisdn_01223456789_date_2025_03_14_Time_10_30_00.wav")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(data[40:44]))
	assert.Equal(t, pcm, data[44:])
}

func TestRecorderSkipsEmptyRecording(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	require.NoError(t, err)

	path, err := rec.WriteRecording("01223456789", time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}
