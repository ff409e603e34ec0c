// Package spill implements the PersistenceWriter's local durable overflow
// file: a length-prefixed sequence of encoded-span records behind a 4-byte
// magic header and a 4-byte version, per §6's persisted state layout. There
// is no teacher precedent for local disk spill; this is built directly
// against the specification.
package spill

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	apperrors "brokle/pkg/errors"
)

var magic = [4]byte{'A', 'G', 'S', 'P'}

const version uint32 = 1

// Writer appends encoded span records to a spill file, used when
// PersistenceWriter's retry budget is exhausted and the buffer must be
// drained to disk rather than grow past its memory cap.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// Open creates or appends to the spill file at path, writing the header only
// when the file is newly created.
func Open(path string) (*Writer, error) {
	info, statErr := os.Stat(path)
	isNew := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, apperrors.NewFatalError("spill: failed to open file", err)
	}

	w := &Writer{f: f, w: bufio.NewWriter(f)}
	if isNew {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.w.Write(magic[:]); err != nil {
		return apperrors.NewFatalError("spill: failed to write magic header", err)
	}
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], version)
	if _, err := w.w.Write(versionBuf[:]); err != nil {
		return apperrors.NewFatalError("spill: failed to write version", err)
	}
	return w.w.Flush()
}

// WriteRecord appends one length-prefixed encoded span to the file.
func (w *Writer) WriteRecord(payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return apperrors.NewFatalError("spill: failed to write record length", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return apperrors.NewFatalError("spill: failed to write record", err)
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Reader replays spill-file records, used at startup to drain any spans
// persisted during a prior outage before resuming normal consumption.
type Reader struct {
	f *os.File
	r *bufio.Reader
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewFatalError("spill: failed to open file for reading", err)
	}

	r := &Reader{f: f, r: bufio.NewReader(f)}
	if err := r.readAndCheckHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readAndCheckHeader() error {
	var got [4]byte
	if _, err := io.ReadFull(r.r, got[:]); err != nil {
		return apperrors.NewFatalError("spill: failed to read magic header", err)
	}
	if got != magic {
		return apperrors.NewFatalError("spill: bad magic header", nil)
	}

	var versionBuf [4]byte
	if _, err := io.ReadFull(r.r, versionBuf[:]); err != nil {
		return apperrors.NewFatalError("spill: failed to read version", err)
	}
	if got := binary.BigEndian.Uint32(versionBuf[:]); got != version {
		return apperrors.NewFatalError("spill: unsupported version", nil)
	}
	return nil
}

// Next returns the next record, io.EOF when the file is exhausted.
func (r *Reader) Next() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, io.EOF
		}
		return nil, apperrors.NewFatalError("spill: failed to read record length", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, apperrors.NewFatalError("spill: failed to read record body", err)
	}
	return buf, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}
