package util

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/dWatch/lib/db"
)

// --------------------------------------------------------------------------
// Snapshot Stream Format
// --------------------------------------------------------------------------

// The snapshot stream is shared by all engines so a snapshot taken on one replica
// can be restored on a replica using a different engine:
//
//	magic (8 bytes) | format version (uint8) | db version (uint64)
//	{ key len (uint32) | key | record version (uint64) | value len (uint32) | value }...
//	end marker (uint32 = 0xffffffff)
//
// All integers are little endian.
const (
	snapshotMagic   = "DWATCHDB"
	snapshotVersion = 1
	endMarker       = ^uint32(0)
)

// SnapshotWriter streams records into the snapshot format.
//
// Thread-safety: not thread-safe.
type SnapshotWriter struct {
	bw *bufio.Writer
}

// NewSnapshotWriter writes the snapshot header and returns a writer for the records.
func NewSnapshotWriter(w io.Writer, dbVersion uint64) (*SnapshotWriter, error) {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.LittleEndian, dbVersion); err != nil {
		return nil, err
	}
	return &SnapshotWriter{bw: bw}, nil
}

// Write appends a single record.
func (s *SnapshotWriter) Write(rec db.Record) error {
	if err := binary.Write(s.bw, binary.LittleEndian, uint32(len(rec.Key))); err != nil {
		return err
	}
	if _, err := s.bw.Write(rec.Key); err != nil {
		return err
	}
	if err := binary.Write(s.bw, binary.LittleEndian, rec.Version); err != nil {
		return err
	}
	if err := binary.Write(s.bw, binary.LittleEndian, uint32(len(rec.Value))); err != nil {
		return err
	}
	_, err := s.bw.Write(rec.Value)
	return err
}

// Close writes the end marker and flushes the buffer. It does not close the underlying writer.
func (s *SnapshotWriter) Close() error {
	if err := binary.Write(s.bw, binary.LittleEndian, endMarker); err != nil {
		return err
	}
	return s.bw.Flush()
}

// ReadSnapshot reads a snapshot stream and calls fn for every record in stream order.
// It returns the database version stored in the header.
func ReadSnapshot(r io.Reader, fn func(rec db.Record) error) (uint64, error) {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return 0, err
	}
	if string(magicBytes) != snapshotMagic {
		return 0, fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if int(version) != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var dbVersion uint64
	if err := binary.Read(br, binary.LittleEndian, &dbVersion); err != nil {
		return 0, err
	}

	for {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return 0, err
		}
		if keyLen == endMarker {
			return dbVersion, nil
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return 0, err
		}

		var recVersion uint64
		if err := binary.Read(br, binary.LittleEndian, &recVersion); err != nil {
			return 0, err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return 0, err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return 0, err
		}

		if err := fn(db.Record{Key: key, Value: value, Version: recVersion}); err != nil {
			return 0, err
		}
	}
}
