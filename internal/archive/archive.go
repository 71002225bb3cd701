// Package archive implements the streaming, store-mode (uncompressed)
// archive writer: it multiplexes a sequence of (name, byte-stream) entries
// into a single ZIP-compatible byte stream delivered through a sink, without
// buffering entry bodies in memory.
//
// Local file headers are written with the general-purpose bit 3 set
// ("streaming mode") so entry sizes and the CRC-32 are only known — and
// only written — in the trailing data descriptor, since WriteChunk may be
// called an arbitrary number of times before EndFile.
package archive

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	localFileHeaderSig  = 0x04034b50
	dataDescriptorSig   = 0x08074b50
	centralDirectorySig = 0x02014b50
	eocdSig             = 0x06054b50

	versionNeeded = 20
	versionMadeBy = 20

	// bit 3: sizes and CRC-32 are deferred to a trailing data descriptor.
	gpBitStreamingSizes = 0x0008

	methodStore = 0
)

// Sink receives the bytes produced by the writer, in strict emission order.
// A nil error means the bytes were accepted; a non-nil error aborts the
// writer and is returned (wrapped) from the call that triggered it.
type Sink func(p []byte) error

type stage int

const (
	stageReady stage = iota
	stageFileOpen
	stageFinalized
	stageFailed
)

type centralRecord struct {
	name             string
	crc32            uint32
	size             uint64
	localHeaderOffset uint64
}

// Writer is the streaming store-mode ZIP writer described by the spec: one
// entry open at a time, strict-order backpressured delivery to sink, and a
// terminal state after Finalize.
type Writer struct {
	sink Sink

	stage       stage
	failErr     error
	writtenSoFar uint64 // total bytes delivered to sink so far (archive offset)

	currentName   string
	currentCRC    uint32
	currentSize   uint64
	currentOffset uint64 // offset of current entry's local header

	records []centralRecord
}

// New creates a Writer that delivers all archive bytes to sink.
func New(sink Sink) *Writer {
	return &Writer{sink: sink, stage: stageReady}
}

func (w *Writer) emit(p []byte) error {
	if w.failErr != nil {
		return w.failErr
	}
	if err := w.sink(p); err != nil {
		w.stage = stageFailed
		w.failErr = fmt.Errorf("archive: sink write failed: %w", err)
		return w.failErr
	}
	w.writtenSoFar += uint64(len(p))
	return nil
}

// StartFile opens a new entry named name. Fails if an entry is already open
// or the writer has been finalized.
func (w *Writer) StartFile(name string) error {
	if w.failErr != nil {
		return w.failErr
	}
	if w.stage == stageFileOpen {
		return fmt.Errorf("archive: cannot start %q: entry %q already open", name, w.currentName)
	}
	if w.stage == stageFinalized {
		return fmt.Errorf("archive: cannot start %q: writer finalized", name)
	}

	header := make([]byte, 30+len(name))
	binary.LittleEndian.PutUint32(header[0:4], localFileHeaderSig)
	binary.LittleEndian.PutUint16(header[4:6], versionNeeded)
	binary.LittleEndian.PutUint16(header[6:8], gpBitStreamingSizes)
	binary.LittleEndian.PutUint16(header[8:10], methodStore)
	binary.LittleEndian.PutUint16(header[10:12], 0) // mod time
	binary.LittleEndian.PutUint16(header[12:14], 0) // mod date
	binary.LittleEndian.PutUint32(header[14:18], 0) // crc32, deferred
	binary.LittleEndian.PutUint32(header[18:22], 0) // compressed size, deferred
	binary.LittleEndian.PutUint32(header[22:26], 0) // uncompressed size, deferred
	binary.LittleEndian.PutUint16(header[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(header[28:30], 0) // extra field length
	copy(header[30:], name)

	w.currentOffset = w.writtenSoFar
	if err := w.emit(header); err != nil {
		return err
	}

	w.stage = stageFileOpen
	w.currentName = name
	w.currentCRC = 0
	w.currentSize = 0
	return nil
}

// WriteChunk appends bytes to the currently open entry. Fails if no entry is
// open.
func (w *Writer) WriteChunk(p []byte) error {
	if w.failErr != nil {
		return w.failErr
	}
	if w.stage != stageFileOpen {
		return fmt.Errorf("archive: write_chunk with no open entry")
	}
	if len(p) == 0 {
		return nil
	}
	if err := w.emit(p); err != nil {
		return err
	}
	w.currentCRC = crc32.Update(w.currentCRC, crc32.IEEETable, p)
	w.currentSize += uint64(len(p))
	return nil
}

// EndFile closes the current entry, writing its trailing data descriptor.
// Fails if no entry is open.
func (w *Writer) EndFile() error {
	if w.failErr != nil {
		return w.failErr
	}
	if w.stage != stageFileOpen {
		return fmt.Errorf("archive: end_file with no open entry")
	}

	desc := make([]byte, 16)
	binary.LittleEndian.PutUint32(desc[0:4], dataDescriptorSig)
	binary.LittleEndian.PutUint32(desc[4:8], w.currentCRC)
	binary.LittleEndian.PutUint32(desc[8:12], uint32(w.currentSize))
	binary.LittleEndian.PutUint32(desc[12:16], uint32(w.currentSize))
	if err := w.emit(desc); err != nil {
		return err
	}

	w.records = append(w.records, centralRecord{
		name:              w.currentName,
		crc32:             w.currentCRC,
		size:              w.currentSize,
		localHeaderOffset: w.currentOffset,
	})

	w.stage = stageReady
	w.currentName = ""
	w.currentCRC = 0
	w.currentSize = 0
	return nil
}

// Finalize writes the central directory and end-of-central-directory
// record. Fails if an entry is still open. Idempotent after first success.
func (w *Writer) Finalize() error {
	if w.stage == stageFinalized {
		return nil
	}
	if w.failErr != nil {
		return w.failErr
	}
	if w.stage == stageFileOpen {
		return fmt.Errorf("archive: finalize with entry %q still open", w.currentName)
	}

	cdStart := w.writtenSoFar
	for _, rec := range w.records {
		buf := make([]byte, 46+len(rec.name))
		binary.LittleEndian.PutUint32(buf[0:4], centralDirectorySig)
		binary.LittleEndian.PutUint16(buf[4:6], versionMadeBy)
		binary.LittleEndian.PutUint16(buf[6:8], versionNeeded)
		binary.LittleEndian.PutUint16(buf[8:10], gpBitStreamingSizes)
		binary.LittleEndian.PutUint16(buf[10:12], methodStore)
		binary.LittleEndian.PutUint16(buf[12:14], 0) // mod time
		binary.LittleEndian.PutUint16(buf[14:16], 0) // mod date
		binary.LittleEndian.PutUint32(buf[16:20], rec.crc32)
		binary.LittleEndian.PutUint32(buf[20:24], uint32(rec.size))
		binary.LittleEndian.PutUint32(buf[24:28], uint32(rec.size))
		binary.LittleEndian.PutUint16(buf[28:30], uint16(len(rec.name)))
		binary.LittleEndian.PutUint16(buf[30:32], 0) // extra length
		binary.LittleEndian.PutUint16(buf[32:34], 0) // comment length
		binary.LittleEndian.PutUint16(buf[34:36], 0) // disk number start
		binary.LittleEndian.PutUint16(buf[36:38], 0) // internal attrs
		binary.LittleEndian.PutUint32(buf[38:42], 0) // external attrs
		binary.LittleEndian.PutUint32(buf[42:46], uint32(rec.localHeaderOffset))
		copy(buf[46:], rec.name)
		if err := w.emit(buf); err != nil {
			return err
		}
	}
	cdSize := w.writtenSoFar - cdStart

	eocd := make([]byte, 22)
	binary.LittleEndian.PutUint32(eocd[0:4], eocdSig)
	binary.LittleEndian.PutUint16(eocd[4:6], 0) // disk number
	binary.LittleEndian.PutUint16(eocd[6:8], 0) // disk with cd
	binary.LittleEndian.PutUint16(eocd[8:10], uint16(len(w.records)))
	binary.LittleEndian.PutUint16(eocd[10:12], uint16(len(w.records)))
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(cdStart))
	binary.LittleEndian.PutUint16(eocd[20:22], 0) // comment length
	if err := w.emit(eocd); err != nil {
		return err
	}

	w.stage = stageFinalized
	return nil
}
