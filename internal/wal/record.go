package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// Record layout, little endian:
//
//	magic[4] ver[2] hdrSize[2] type[2] schemaVer[2] source[2] flags[2]
//	payloadLen[4] seq[8] tsEvent[8] tsRecv[8] traceID[8] reserved[4]
//	payload[payloadLen] crc32c(header+payload)[4]
const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 56
	recordChecksumSize        = 4
	maxPayloadLen             = uint64(^uint32(0))
)

var (
	recordMagic = [4]byte{'P', 'E', 'V', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("wal: invalid magic")
	ErrUnsupportedRecordVer    = errors.New("wal: unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("wal: invalid header size")
	ErrChecksumMismatch        = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge         = errors.New("wal: payload too large")
)

// recordSize returns the framed size of a payload.
func recordSize(payloadLen int) int64 {
	return int64(recordHeaderSize + payloadLen + recordChecksumSize)
}

// appendRecord frames header and payload onto dst.
func appendRecord(dst []byte, header schema.EventHeader, payload []byte) []byte {
	start := len(dst)
	var hdr [recordHeaderSize]byte
	copy(hdr[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], recordVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(header.Type))
	binary.LittleEndian.PutUint16(hdr[10:12], header.Version)
	binary.LittleEndian.PutUint16(hdr[12:14], header.Source)
	binary.LittleEndian.PutUint16(hdr[14:16], header.Flags)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[20:28], header.Seq)
	binary.LittleEndian.PutUint64(hdr[28:36], uint64(header.TsEvent))
	binary.LittleEndian.PutUint64(hdr[36:44], uint64(header.TsRecv))
	binary.LittleEndian.PutUint64(hdr[44:52], header.TraceID)

	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint32(dst, crc32.Checksum(dst[start:], crcTable))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return schema.EventHeader{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	h := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[8:10])),
		Version: binary.LittleEndian.Uint16(src[10:12]),
		Source:  binary.LittleEndian.Uint16(src[12:14]),
		Flags:   binary.LittleEndian.Uint16(src[14:16]),
		Seq:     binary.LittleEndian.Uint64(src[20:28]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[28:36])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[36:44])),
		TraceID: binary.LittleEndian.Uint64(src[44:52]),
	}
	return h, binary.LittleEndian.Uint32(src[16:20]), nil
}
