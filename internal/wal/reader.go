package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
	offset    int64
}

// NewReader wraps an io.Reader with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Offset returns the end offset of the last complete record.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next record header and payload. The payload is only valid
// until the next call to Next. A record cut short returns io.ErrUnexpectedEOF.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	var header schema.EventHeader

	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return header, nil, io.EOF
		}
		return header, nil, io.ErrUnexpectedEOF
	}

	header, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, ErrPayloadTooLarge
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return header, nil, io.ErrUnexpectedEOF
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return header, nil, io.ErrUnexpectedEOF
	}
	if !r.opts.DisableChecksum {
		if checksum(r.headerBuf, r.payload) != binary.LittleEndian.Uint32(checksumBuf[:]) {
			return header, nil, ErrChecksumMismatch
		}
	}

	r.offset += recordSize(int(payloadLen))
	return header, r.payload, nil
}
