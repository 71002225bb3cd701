package protocol

import "context"

// Sink is the receiver-side byte consumer: an offset-addressed writer that
// the protocol delivers verified chunk payloads to. The embedding
// application supplies this — a disk file, an in-memory buffer, or anything
// else addressable by absolute byte offset.
type Sink interface {
	// Write delivers bytes belonging at the given absolute offset. Must
	// complete (or fail) before the receiver will process the next frame.
	Write(ctx context.Context, offset int64, p []byte) error
	// Close finalizes the sink once the transfer completes.
	Close(ctx context.Context) error
}

// Source is the sender-side byte producer the chunk loop pulls payloads
// from, addressed the same way as Sink so the same resume bookkeeping
// applies on both ends.
type Source interface {
	// ReadAt reads up to len(p) bytes starting at offset, mirroring
	// io.ReaderAt semantics (short reads only at EOF).
	ReadAt(p []byte, offset int64) (int, error)
}
