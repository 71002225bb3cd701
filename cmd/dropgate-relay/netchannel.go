package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/dropgate/dropgate/protocol"
)

// frameKindControl/frameKindBinary tag each length-prefixed frame on the
// wire so the reader knows whether to run the payload through
// protocol.Decode or hand it back raw.
const (
	frameKindControl byte = 0
	frameKindBinary  byte = 1
)

// netChannel implements protocol.Channel over a plain net.Conn using a
// 1-byte kind tag plus a 4-byte big-endian length prefix ahead of every
// frame, the same reader-goroutine-free, deadline-free style as the
// teacher's Connection before its chunk-layer framing is added — Dropgate
// frames are already message-granular so there is no sub-message
// reassembly to do here.
type netChannel struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
}

func newNetChannel(conn net.Conn) *netChannel {
	return &netChannel{conn: conn}
}

func (c *netChannel) writeFrame(kind byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var hdr [5]byte
	hdr[0] = kind
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("netchannel: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return fmt.Errorf("netchannel: write payload: %w", err)
		}
	}
	return nil
}

func (c *netChannel) SendControl(ctx context.Context, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("netchannel: encode: %w", err)
	}
	return c.writeFrame(frameKindControl, payload)
}

func (c *netChannel) SendBinary(ctx context.Context, p []byte) error {
	return c.writeFrame(frameKindBinary, p)
}

func (c *netChannel) Recv(ctx context.Context) (protocol.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var hdr [5]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return protocol.Frame{}, fmt.Errorf("netchannel: read header: %w", err)
	}
	kind := hdr[0]
	size := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return protocol.Frame{}, fmt.Errorf("netchannel: read payload: %w", err)
		}
	}

	switch kind {
	case frameKindControl:
		msg, err := protocol.Decode(payload)
		if err != nil {
			return protocol.Frame{}, err
		}
		return protocol.Frame{Kind: protocol.FrameControl, Control: msg}, nil
	case frameKindBinary:
		return protocol.Frame{Kind: protocol.FrameBinary, Binary: payload}, nil
	default:
		return protocol.Frame{}, fmt.Errorf("netchannel: unknown frame kind %d", kind)
	}
}

func (c *netChannel) Close() error {
	return c.conn.Close()
}
