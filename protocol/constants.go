package protocol

import "time"

// Default constants exposed to embedders, per the spec's external interface
// table. All are overridable through Options.
const (
	DefaultChunkSize        = 65536
	DefaultWindowMax        = 32
	DefaultEndAckTimeout    = 15 * time.Second
	DefaultEndAckRetries    = 3
	DefaultEndAckRetryDelay = 100 * time.Millisecond
	DefaultCloseGrace       = 2 * time.Second
	DefaultHeartbeatPeriod  = 5 * time.Second
	DefaultMissedHeartbeats = 2
	ProtocolVersion         = 2
)

// Options configures a Sender or Receiver. NewSender and NewReceiver fill
// zero-valued fields with the defaults, except HeartbeatPeriod, whose zero
// value disables heartbeats; NewOptions returns every default, heartbeats
// included.
type Options struct {
	// ChunkSize bounds the size of each binary frame's payload.
	ChunkSize int
	// WindowMax bounds the sender's unacknowledged-chunk count.
	WindowMax int
	// EndAckTimeout is how long the sender waits for end_ack before retrying.
	EndAckTimeout time.Duration
	// EndAckRetries is how many end frames the sender emits in total (the
	// first plus its re-emissions) before failing, and how many end_acks
	// the receiver emits.
	EndAckRetries int
	// EndAckRetryDelay spaces the receiver's end_ack retransmissions.
	EndAckRetryDelay time.Duration
	// CloseGrace is how long a peer waits for a final frame after the
	// channel signals closure before declaring failure.
	CloseGrace time.Duration
	// HeartbeatPeriod is how often an idle peer emits a ping. Zero disables
	// heartbeats.
	HeartbeatPeriod time.Duration
	// MissedHeartbeatThreshold is how many consecutive missed pongs before
	// the channel is treated as broken.
	MissedHeartbeatThreshold int
	// RateLimit, if non-zero, bounds the sender's outbound chunk rate in
	// chunks per second, supplementing the window bound with a pacing knob.
	RateLimit float64
}

// NewOptions returns an Options populated with the spec's defaults.
func NewOptions() Options {
	return Options{
		ChunkSize:                DefaultChunkSize,
		WindowMax:                DefaultWindowMax,
		EndAckTimeout:            DefaultEndAckTimeout,
		EndAckRetries:            DefaultEndAckRetries,
		EndAckRetryDelay:         DefaultEndAckRetryDelay,
		CloseGrace:               DefaultCloseGrace,
		HeartbeatPeriod:          DefaultHeartbeatPeriod,
		MissedHeartbeatThreshold: DefaultMissedHeartbeats,
	}
}

// applyDefaults fills zero-valued fields with spec defaults, mirroring how
// the teacher's server.Config.applyDefaults works.
func (o Options) applyDefaults() Options {
	d := NewOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.WindowMax <= 0 {
		o.WindowMax = d.WindowMax
	}
	if o.EndAckTimeout <= 0 {
		o.EndAckTimeout = d.EndAckTimeout
	}
	if o.EndAckRetries <= 0 {
		o.EndAckRetries = d.EndAckRetries
	}
	if o.EndAckRetryDelay <= 0 {
		o.EndAckRetryDelay = d.EndAckRetryDelay
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = d.CloseGrace
	}
	if o.MissedHeartbeatThreshold <= 0 {
		o.MissedHeartbeatThreshold = d.MissedHeartbeatThreshold
	}
	return o
}
