package services

import (
	"sync"
	"time"

	"github.com/tourbooking/booking-flow/internal/models"
)

// PollState describes the status poller attached to a session
type PollState string

const (
	PollStateIdle    PollState = "idle"
	PollStatePolling PollState = "polling"
	PollStateStopped PollState = "stopped"
	PollStateGaveUp  PollState = "gave_up" // too many failures, user must refresh
)

// NextView tells the booking pages where to go after a payment step
type NextView string

const (
	NextViewNone          NextView = ""
	NextViewVoucher       NextView = "voucher"
	NextViewBookingDetail NextView = "booking-detail"
	NextViewRedirect      NextView = "redirect"
)

// BookingSession is the per-booking view state. All mutation happens under mu.
type BookingSession struct {
	mu          sync.Mutex
	booking     *models.Booking
	processing  bool
	pollState   PollState
	nextView    NextView
	redirectURL string
	requestSeq  uint64 // last sequence handed to a status request
	appliedSeq  uint64 // sequence of the last response applied
	updatedAt   time.Time
}

// SessionView is an immutable snapshot of a session for rendering
type SessionView struct {
	Booking      *models.Booking `json:"booking"`
	Processing   bool            `json:"processing"`
	PollState    PollState       `json:"pollState"`
	NextView     NextView        `json:"nextView,omitempty"`
	RedirectURL  string          `json:"redirectUrl,omitempty"`
	PaymentBadge string          `json:"paymentBadge"`
	Provisional  bool            `json:"provisional"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func newBookingSession(booking *models.Booking) *BookingSession {
	return &BookingSession{
		booking:   booking.Clone(),
		pollState: PollStateIdle,
		updatedAt: time.Now(),
	}
}

// View returns a snapshot of the session
func (s *BookingSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionView{
		Booking:      s.booking.Clone(),
		Processing:   s.processing,
		PollState:    s.pollState,
		NextView:     s.nextView,
		RedirectURL:  s.redirectURL,
		PaymentBadge: s.booking.PaymentStatus.Badge(),
		Provisional:  s.booking.Provisional != nil,
		UpdatedAt:    s.updatedAt,
	}
}

// Booking returns a copy of the session booking
func (s *BookingSession) Booking() *models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booking.Clone()
}

// IsProcessing reports whether a payment step is in flight
func (s *BookingSession) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// nextRequestSeq issues the sequence number for a new status request
func (s *BookingSession) nextRequestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestSeq++
	return s.requestSeq
}

// touch marks the session as changed; caller holds mu
func (s *BookingSession) touch() {
	s.updatedAt = time.Now()
}

// setPollState updates the poll state
func (s *BookingSession) setPollState(state PollState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollState = state
	s.touch()
}

// SessionRegistry holds the live sessions by booking id and internal id
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*BookingSession
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*BookingSession),
	}
}

// Get returns the session registered under id
func (r *SessionRegistry) Get(id string) (*BookingSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Register returns the existing session for booking, or creates one
func (r *SessionRegistry) Register(booking *models.Booking) *BookingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range []string{booking.BookingID, booking.ID} {
		if key == "" {
			continue
		}
		if s, ok := r.sessions[key]; ok {
			return s
		}
	}

	s := newBookingSession(booking)
	for _, key := range []string{booking.BookingID, booking.ID} {
		if key != "" {
			r.sessions[key] = s
		}
	}
	return s
}

// Prune drops sessions idle since before cutoff that are neither polling nor
// processing. It returns every id the dropped sessions were registered under.
func (r *SessionRegistry) Prune(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []string
	for key, s := range r.sessions {
		s.mu.Lock()
		idle := s.updatedAt.Before(cutoff) && !s.processing && s.pollState != PollStatePolling
		s.mu.Unlock()
		if idle {
			delete(r.sessions, key)
			pruned = append(pruned, key)
		}
	}
	return pruned
}

// Len returns the number of distinct sessions
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	distinct := make(map[*BookingSession]bool)
	for _, s := range r.sessions {
		distinct[s] = true
	}
	return len(distinct)
}
