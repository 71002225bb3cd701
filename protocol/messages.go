package protocol

import (
	"encoding/json"
	"fmt"

	dgerrors "github.com/dropgate/dropgate/internal/errors"
)

// MsgType is the wire discriminator carried in every control frame's "t" field.
type MsgType string

const (
	MsgHello     MsgType = "hello"
	MsgMeta      MsgType = "meta"
	MsgReady     MsgType = "ready"
	MsgChunk     MsgType = "chunk"
	MsgChunkAck  MsgType = "chunk_ack"
	MsgEnd       MsgType = "end"
	MsgEndAck    MsgType = "end_ack"
	MsgPing      MsgType = "ping"
	MsgPong      MsgType = "pong"
	MsgError     MsgType = "error"
	MsgCancelled MsgType = "cancelled"
	MsgResume    MsgType = "resume"
	MsgResumeAck MsgType = "resume_ack"
)

// Message is implemented by every control-frame payload type.
type Message interface {
	Type() MsgType
}

// Hello announces the sender's protocol version and its chosen session id.
type Hello struct {
	T               string `json:"t"`
	ProtocolVersion int    `json:"protocolVersion"`
	SessionID       string `json:"sessionId"`
}

func NewHello(version int, sessionID string) *Hello {
	return &Hello{T: string(MsgHello), ProtocolVersion: version, SessionID: sessionID}
}
func (m *Hello) Type() MsgType { return MsgHello }

// Meta carries file metadata, sent once by the sender after handshake.
type Meta struct {
	T         string `json:"t"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Mime      string `json:"mime"`
}

func NewMeta(sessionID, name string, size int64, mime string) *Meta {
	return &Meta{T: string(MsgMeta), SessionID: sessionID, Name: name, Size: size, Mime: mime}
}
func (m *Meta) Type() MsgType { return MsgMeta }

// Ready tells the sender the receiver is prepared to accept chunks.
type Ready struct {
	T string `json:"t"`
}

func NewReady() *Ready              { return &Ready{T: string(MsgReady)} }
func (m *Ready) Type() MsgType      { return MsgReady }

// Chunk is the header for the binary frame that immediately follows it.
type Chunk struct {
	T      string `json:"t"`
	Seq    int    `json:"seq"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Total  int64  `json:"total"`
}

func NewChunk(seq int, offset, size, total int64) *Chunk {
	return &Chunk{T: string(MsgChunk), Seq: seq, Offset: offset, Size: size, Total: total}
}
func (m *Chunk) Type() MsgType { return MsgChunk }

// ChunkAck acknowledges receipt of a chunk and reports the cumulative
// delivered-bytes counter.
type ChunkAck struct {
	T        string `json:"t"`
	Seq      int    `json:"seq"`
	Received int64  `json:"received"`
}

func NewChunkAck(seq int, received int64) *ChunkAck {
	return &ChunkAck{T: string(MsgChunkAck), Seq: seq, Received: received}
}
func (m *ChunkAck) Type() MsgType { return MsgChunkAck }

// End announces that the sender believes all bytes have been emitted.
// Attempt is omitted on the first emission; absence means attempt=1.
type End struct {
	T       string `json:"t"`
	Attempt int    `json:"attempt,omitempty"`
}

func NewEnd(attempt int) *End { return &End{T: string(MsgEnd), Attempt: attempt} }
func (m *End) Type() MsgType  { return MsgEnd }

// EffectiveAttempt returns Attempt, treating the zero value (field absent on
// the wire) as attempt 1 per the spec's open-question decision.
func (m *End) EffectiveAttempt() int {
	if m.Attempt == 0 {
		return 1
	}
	return m.Attempt
}

// EndAck is the receiver's verified-complete confirmation.
type EndAck struct {
	T        string `json:"t"`
	Received int64  `json:"received"`
	Total    int64  `json:"total"`
}

func NewEndAck(received, total int64) *EndAck {
	return &EndAck{T: string(MsgEndAck), Received: received, Total: total}
}
func (m *EndAck) Type() MsgType { return MsgEndAck }

// Ping is a heartbeat probe; Timestamp is echoed back in the matching Pong.
type Ping struct {
	T         string `json:"t"`
	Timestamp int64  `json:"timestamp"`
}

func NewPing(timestamp int64) *Ping { return &Ping{T: string(MsgPing), Timestamp: timestamp} }
func (m *Ping) Type() MsgType       { return MsgPing }

// Pong answers a Ping, echoing its Timestamp unchanged.
type Pong struct {
	T         string `json:"t"`
	Timestamp int64  `json:"timestamp"`
}

func NewPong(timestamp int64) *Pong { return &Pong{T: string(MsgPong), Timestamp: timestamp} }
func (m *Pong) Type() MsgType       { return MsgPong }

// ErrorMsg is a fatal error notification from either peer.
type ErrorMsg struct {
	T       string `json:"t"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func NewErrorMsg(message, code string) *ErrorMsg {
	return &ErrorMsg{T: string(MsgError), Message: message, Code: code}
}
func (m *ErrorMsg) Type() MsgType { return MsgError }

// Cancelled is a cooperative-cancellation notification from either peer.
type Cancelled struct {
	T      string `json:"t"`
	Reason string `json:"reason,omitempty"`
}

func NewCancelled(reason string) *Cancelled {
	return &Cancelled{T: string(MsgCancelled), Reason: reason}
}
func (m *Cancelled) Type() MsgType { return MsgCancelled }

// Resume requests resumption of a broken session at a previously acked
// offset.
type Resume struct {
	T             string `json:"t"`
	SessionID     string `json:"sessionId"`
	ReceivedBytes int64  `json:"receivedBytes"`
}

func NewResume(sessionID string, receivedBytes int64) *Resume {
	return &Resume{T: string(MsgResume), SessionID: sessionID, ReceivedBytes: receivedBytes}
}
func (m *Resume) Type() MsgType { return MsgResume }

// ResumeAck answers a Resume request.
type ResumeAck struct {
	T                string `json:"t"`
	ResumeFromOffset int64  `json:"resumeFromOffset"`
	Accepted         bool   `json:"accepted"`
}

func NewResumeAck(resumeFromOffset int64, accepted bool) *ResumeAck {
	return &ResumeAck{T: string(MsgResumeAck), ResumeFromOffset: resumeFromOffset, Accepted: accepted}
}
func (m *ResumeAck) Type() MsgType { return MsgResumeAck }

// Encode marshals a control message to its UTF-8 JSON wire representation.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// requiredFields returns an error if raw (a JSON object) is missing any of
// the named top-level keys. Presence is checked against the raw key set so
// zero-valued-but-absent fields (like a numeric 0) are distinguished from
// fields the peer never sent.
func requiredFields(raw []byte, fields ...string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return nil
}

// Decode parses a control frame's raw JSON bytes into the matching typed
// Message. It validates the discriminator and the type's required fields,
// returning a MalformedFrameError on any violation.
func Decode(raw []byte) (Message, error) {
	var peek struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, dgerrors.NewMalformedFrameError("decode.envelope", err)
	}

	switch MsgType(peek.T) {
	case MsgHello:
		if err := requiredFields(raw, "protocolVersion", "sessionId"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.hello", err)
		}
		var m Hello
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.hello", err)
		}
		return &m, nil

	case MsgMeta:
		if err := requiredFields(raw, "sessionId", "name", "size", "mime"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.meta", err)
		}
		var m Meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.meta", err)
		}
		return &m, nil

	case MsgReady:
		var m Ready
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.ready", err)
		}
		return &m, nil

	case MsgChunk:
		if err := requiredFields(raw, "seq", "offset", "size", "total"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.chunk", err)
		}
		var m Chunk
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.chunk", err)
		}
		return &m, nil

	case MsgChunkAck:
		if err := requiredFields(raw, "seq", "received"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.chunk_ack", err)
		}
		var m ChunkAck
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.chunk_ack", err)
		}
		return &m, nil

	case MsgEnd:
		var m End
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.end", err)
		}
		return &m, nil

	case MsgEndAck:
		if err := requiredFields(raw, "received", "total"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.end_ack", err)
		}
		var m EndAck
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.end_ack", err)
		}
		return &m, nil

	case MsgPing:
		if err := requiredFields(raw, "timestamp"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.ping", err)
		}
		var m Ping
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.ping", err)
		}
		return &m, nil

	case MsgPong:
		if err := requiredFields(raw, "timestamp"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.pong", err)
		}
		var m Pong
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.pong", err)
		}
		return &m, nil

	case MsgError:
		if err := requiredFields(raw, "message"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.error", err)
		}
		var m ErrorMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.error", err)
		}
		return &m, nil

	case MsgCancelled:
		var m Cancelled
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.cancelled", err)
		}
		return &m, nil

	case MsgResume:
		if err := requiredFields(raw, "sessionId", "receivedBytes"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.resume", err)
		}
		var m Resume
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.resume", err)
		}
		return &m, nil

	case MsgResumeAck:
		if err := requiredFields(raw, "resumeFromOffset", "accepted"); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.resume_ack", err)
		}
		var m ResumeAck
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dgerrors.NewMalformedFrameError("decode.resume_ack", err)
		}
		return &m, nil

	default:
		return nil, dgerrors.NewMalformedFrameError(fmt.Sprintf("decode: unknown message type %q", peek.T), nil)
	}
}
