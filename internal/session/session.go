// Package session holds the per-connection HiSLIP state machine: the
// message-id counter, negotiated sizes, and the two mode flags that
// Handshake, Data Transfer, and Device Clear mutate.
package session

import "sync"

const (
	// InitialMessageID is the message id a freshly connected session
	// starts counting from.
	InitialMessageID uint32 = 0xFFFFFF00
	// UnknownMessageID is the sentinel a server may echo in
	// synchronized mode when it has no recorded id. The client never
	// produces it itself.
	UnknownMessageID uint32 = 0xFFFFFFFF
	// MinMaxMessageSize is the minimum negotiable maximum message
	// size: 256-byte VISA payload plus the 16-byte header.
	MinMaxMessageSize uint64 = 272
	// DefaultLockTimeoutMS is the lock-acquisition wait used until the
	// caller overrides it via SetLockTimeoutMS.
	DefaultLockTimeoutMS uint32 = 3000
)

// State is the mutable session data a Client owns. All fields are
// accessed through the methods below; callers never touch them
// directly, so State can be shared safely across the foreground path
// and the SRQ goroutine.
type State struct {
	mu sync.Mutex

	sessionID   uint16
	overlapMode bool

	messageID           uint32
	mostRecentMessageID uint32
	rmtDelivered        bool

	maxMessageSize uint64
	lockTimeoutMS  uint32
}

// New returns a State with the defaults a freshly dialed connection
// should use before Handshake populates it.
func New() *State {
	return &State{
		messageID:           InitialMessageID,
		mostRecentMessageID: InitialMessageID,
		maxMessageSize:      MinMaxMessageSize,
		lockTimeoutMS:       DefaultLockTimeoutMS,
	}
}

// SetSessionID records the id assigned by the server during Initialize.
func (s *State) SetSessionID(id uint16) { s.mu.Lock(); s.sessionID = id; s.mu.Unlock() }

// SessionID returns the server-assigned session id.
func (s *State) SessionID() uint16 { s.mu.Lock(); defer s.mu.Unlock(); return s.sessionID }

// SetOverlapMode records whether the session is running in overlapped
// (true) or synchronized (false) mode.
func (s *State) SetOverlapMode(v bool) { s.mu.Lock(); s.overlapMode = v; s.mu.Unlock() }

// OverlapMode reports the current mode.
func (s *State) OverlapMode() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.overlapMode }

// NextMessageID returns the id to stamp on the next outbound
// Data/DataEnd/Trigger frame, records it as the most-recent id, and
// advances the counter by 2 modulo 2^32.
func (s *State) NextMessageID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.messageID
	s.mostRecentMessageID = id
	s.messageID += 2 // wraps naturally: uint32 arithmetic is already mod 2^32
	return id
}

// MostRecentMessageID returns the id used for the last frame issued.
func (s *State) MostRecentMessageID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mostRecentMessageID
}

// ReleaseLockMessageID returns the id release_lock should send: 0 if no
// write has happened yet (the message-id counter has not advanced from
// its initial value), otherwise the most-recent id. This mirrors the
// reference client's handling; the HiSLIP standard does not define the
// value unambiguously.
func (s *State) ReleaseLockMessageID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageID == InitialMessageID {
		return 0
	}
	return s.mostRecentMessageID
}

// SetRMT updates rmt_delivered. The reference client overwrites this
// flag on every inbound frame (not just DataEnd), so callers pass the
// freshly computed value unconditionally rather than OR-ing it in.
func (s *State) SetRMT(v bool) { s.mu.Lock(); s.rmtDelivered = v; s.mu.Unlock() }

// RMTDelivered reports the current rmt_delivered flag, used as the
// control byte on the next outbound Data/DataEnd/AsyncStatusQuery/Trigger.
func (s *State) RMTDelivered() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.rmtDelivered }

// SetMaxMessageSize records the negotiated effective maximum message size.
func (s *State) SetMaxMessageSize(n uint64) { s.mu.Lock(); s.maxMessageSize = n; s.mu.Unlock() }

// MaxMessageSize returns the negotiated maximum message size.
func (s *State) MaxMessageSize() uint64 { s.mu.Lock(); defer s.mu.Unlock(); return s.maxMessageSize }

// SetLockTimeoutMS overrides the lock-acquisition timeout sent with AsyncLock.
func (s *State) SetLockTimeoutMS(ms uint32) { s.mu.Lock(); s.lockTimeoutMS = ms; s.mu.Unlock() }

// LockTimeoutMS returns the lock-acquisition timeout in milliseconds.
func (s *State) LockTimeoutMS() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.lockTimeoutMS }

// ResetForDeviceClear restores the counters to their post-device-clear
// values: the message id counter back to its initial value (so
// ReleaseLockMessageID returns 0 until the next write), the most-recent
// id to zero, and rmt_delivered cleared.
func (s *State) ResetForDeviceClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = InitialMessageID
	s.mostRecentMessageID = 0
	s.rmtDelivered = false
}
