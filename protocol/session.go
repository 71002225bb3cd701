package protocol

// SenderState is the sender's position in the handshake/transfer lifecycle.
type SenderState uint8

const (
	SenderAwaitingHello SenderState = iota
	SenderAwaitingReady
	SenderSending
	SenderAwaitingEndAck
	SenderDone
	SenderFailed
	SenderCancelled
)

func (s SenderState) String() string {
	switch s {
	case SenderAwaitingHello:
		return "AwaitingHello"
	case SenderAwaitingReady:
		return "AwaitingReady"
	case SenderSending:
		return "Sending"
	case SenderAwaitingEndAck:
		return "AwaitingEndAck"
	case SenderDone:
		return "Done"
	case SenderFailed:
		return "Failed"
	case SenderCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ReceiverState is the receiver's position in the handshake/transfer lifecycle.
type ReceiverState uint8

const (
	ReceiverAwaitingHello ReceiverState = iota
	ReceiverAwaitingMeta
	ReceiverReceiving
	ReceiverCompleting
	ReceiverDone
	ReceiverFailed
	ReceiverCancelled
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverAwaitingHello:
		return "AwaitingHello"
	case ReceiverAwaitingMeta:
		return "AwaitingMeta"
	case ReceiverReceiving:
		return "Receiving"
	case ReceiverCompleting:
		return "Completing"
	case ReceiverDone:
		return "Done"
	case ReceiverFailed:
		return "Failed"
	case ReceiverCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Metadata describes the file being transferred, exchanged once via Meta.
type Metadata struct {
	Name string
	Size int64
	Mime string
}

// Session is the shared per-transfer identity both Sender and Receiver
// carry. It is mutated only by its owning goroutine, so — like the
// teacher's connection-scoped session type — it needs no locking.
type Session struct {
	id      string
	version int
	meta    Metadata
}

// NewSession creates a Session with the given id and protocol version. The
// sender chooses id; the receiver adopts whatever id the sender's hello
// carries.
func NewSession(id string, version int) *Session {
	return &Session{id: id, version: version}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Version() int    { return s.version }
func (s *Session) Meta() Metadata  { return s.meta }
func (s *Session) SetMeta(m Metadata) { s.meta = m }
