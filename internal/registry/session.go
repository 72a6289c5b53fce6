package registry

import (
	"bytes"
	"sync"
	"time"
)

// Session is one active call. The recording buffer is owned exclusively
// by the session and appended to only through AppendRecording.
type Session struct {
	MSISDN         string
	Addr           string // peer IP, address-only media match key
	StartTime      time.Time
	InitialBalance float64

	mu        sync.Mutex
	port      int // last known media source port, updated opportunistically
	endTime   time.Time
	active    bool
	recording bytes.Buffer
}

func newSession(msisdn, addr string, port int, balance float64) *Session {
	return &Session{
		MSISDN:         msisdn,
		Addr:           addr,
		StartTime:      time.Now(),
		InitialBalance: balance,
		port:           port,
		active:         true,
	}
}

// Active reports whether the session has not yet been finalized.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// EndTime is zero while the session is active.
func (s *Session) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Port returns the last known media source port.
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// UpdatePort records a changed media source port. Returns the previous
// port and whether it changed.
func (s *Session) UpdatePort(port int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.port
	if prev == port {
		return prev, false
	}
	s.port = port
	return prev, true
}

// AppendRecording adds decoded media to the session's recording buffer.
func (s *Session) AppendRecording(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.recording.Write(pcm)
}

// Recording returns a copy of the accumulated media.
func (s *Session) Recording() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.recording.Len())
	copy(out, s.recording.Bytes())
	return out
}

func (s *Session) close(end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.endTime = end
}
