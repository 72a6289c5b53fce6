package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchpoint/msc/internal/cdr"
)

const testRate = 5.0

func seeded(t *testing.T) *Registry {
	t.Helper()
	r := New()
	r.SeedBalance("01223456789", 100)
	r.SeedBalance("01020053936", 5)
	r.SeedBalance("01000000001", 2)
	return r
}

func TestAdmitRejections(t *testing.T) {
	r := seeded(t)

	_, err := r.Admit("09999999999", "10.0.0.1", 5011, testRate)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = r.Admit("01000000001", "10.0.0.1", 5011, testRate)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// A rejected attempt leaves the balance untouched.
	bal, ok := r.Balance("01000000001")
	require.True(t, ok)
	assert.Equal(t, 2.0, bal)
}

func TestAdmitSnapshotsBalance(t *testing.T) {
	r := seeded(t)

	s, err := r.Admit("01223456789", "10.0.0.1", 5011, testRate)
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.InitialBalance)
	assert.True(t, s.Active())
	assert.True(t, s.EndTime().IsZero())

	_, err = r.Admit("01223456789", "10.0.0.1", 5011, testRate)
	assert.ErrorIs(t, err, ErrAlreadyInCall)
}

func TestConcurrentAdmitCreatesOneSession(t *testing.T) {
	r := seeded(t)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Admit("01223456789", "10.0.0.1", 5011, testRate); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestChargeTick(t *testing.T) {
	r := seeded(t)

	bal, exhausted, err := r.ChargeTick("01223456789", testRate)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 95.0, bal)

	// A tick that would zero the balance is not applied; the caller
	// finalizes instead.
	bal, exhausted, err = r.ChargeTick("01020053936", testRate)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, 5.0, bal)
	bal, _ = r.Balance("01020053936")
	assert.Equal(t, 5.0, bal)

	_, _, err = r.ChargeTick("09999999999", testRate)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFinalizeBillsCeilingAndCapsAtBalance(t *testing.T) {
	r := New()
	r.SeedBalance("01020053936", 5)

	s, err := r.Admit("01020053936", "10.0.0.1", 5011, testRate)
	require.NoError(t, err)

	// 61 seconds elapsed bills ceil(61/60)=2 minutes = 10.0 L.E., capped
	// at the available 5.0.
	s.StartTime = time.Now().Add(-61 * time.Second)

	_, rec, err := r.Finalize("01020053936", cdr.ReasonNormalClearing, testRate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.BillableMinutes)
	assert.Equal(t, 5.0, rec.Cost)
	assert.Equal(t, 0.0, rec.Balance)

	bal, _ := r.Balance("01020053936")
	assert.Equal(t, 0.0, bal)

	// The session is gone from the active set.
	_, _, err = r.Finalize("01020053936", cdr.ReasonNormalClearing, testRate)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestFinalizeShortCallBillsOneMinute(t *testing.T) {
	r := seeded(t)
	_, err := r.Admit("01223456789", "10.0.0.1", 5011, testRate)
	require.NoError(t, err)

	sess, rec, err := r.Finalize("01223456789", cdr.ReasonNormalClearing, testRate)
	require.NoError(t, err)
	assert.False(t, sess.Active())
	assert.Equal(t, int64(1), rec.BillableMinutes)
	assert.Equal(t, 5.0, rec.Cost)
	assert.Equal(t, 95.0, rec.Balance)
}

func TestSessionByAddrIgnoresPort(t *testing.T) {
	r := seeded(t)
	s, err := r.Admit("01223456789", "192.168.1.7", 5011, testRate)
	require.NoError(t, err)

	got, ok := r.SessionByAddr("192.168.1.7")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.SessionByAddr("192.168.1.8")
	assert.False(t, ok)

	// The source port is updated opportunistically, not matched on.
	prev, changed := s.UpdatePort(40000)
	assert.True(t, changed)
	assert.Equal(t, 5011, prev)
	_, changed = s.UpdatePort(40000)
	assert.False(t, changed)
}

func TestRekeyMovesChannelAtomically(t *testing.T) {
	r := New()
	ch := &SecureChannel{Key: []byte("k"), IV: []byte("iv")}
	r.PutChannel("10.0.0.1:40000", ch)

	require.True(t, r.Rekey("10.0.0.1:40000", "01223456789"))

	_, ok := r.Channel("10.0.0.1:40000")
	assert.False(t, ok)
	got, ok := r.Channel("01223456789")
	require.True(t, ok)
	assert.Same(t, ch, got)

	assert.False(t, r.Rekey("10.0.0.1:40000", "01223456789"))
}

func TestDropChannelWipesKey(t *testing.T) {
	r := New()
	key := []byte{1, 2, 3, 4}
	r.PutChannel("conn", &SecureChannel{Key: key, IV: []byte("iv")})

	r.DropChannel("conn")
	_, ok := r.Channel("conn")
	assert.False(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 0}, key)
}

func TestRecordingBuffer(t *testing.T) {
	r := seeded(t)
	s, err := r.Admit("01223456789", "10.0.0.1", 5011, testRate)
	require.NoError(t, err)

	s.AppendRecording([]byte{1, 2})
	s.AppendRecording([]byte{3})
	assert.Equal(t, []byte{1, 2, 3}, s.Recording())

	_, _, err = r.Finalize("01223456789", cdr.ReasonNormalClearing, testRate)
	require.NoError(t, err)

	// Appends after finalize are discarded; the flushed recording is final.
	s.AppendRecording([]byte{9})
	assert.Equal(t, []byte{1, 2, 3}, s.Recording())
}
