// store.go implements the sharded in-memory sketch store and its binary
// snapshot format. persistence.go moves snapshots between this store and the
// filesystem; the store itself only sees io.Writer and io.Reader.
//
// Each key holds one live sketch. Every command runs under that key's shard
// lock, so a single sketch is never driven by two goroutines at once.
//
// Sharding Strategy
// =================
//
// Data is partitioned across 256 shards, each with its own RWMutex. Keys are
// assigned with xxhash modulo 256, the same hash the sketches use internally.
//
// The Binary Format (SKS1)
// ========================
//
//	+--------+-----------+-----------+---------+     +-----+-----------+
//	| Header | Shard 0   | Shard 1   | Shard 2 | ... | EOF | Checksum  |
//	+--------+-----------+-----------+---------+     +-----+-----------+
//	 4 bytes   variable    variable    variable       1 B    8 bytes
//
// Header: the magic "SKS1".
//
// Shard Blocks: each non-empty shard is written as a block:
//
//	+--------+----------+-------+-------+-------+-------+-------+-------+
//	| OpCode | Shard ID | Count | KLen  | Key   | VLen  | Value | ...   |
//	+--------+----------+-------+-------+-------+-------+-------+-------+
//	  1 byte   1 byte    4 bytes 4 bytes  var    4 bytes  var
//
// Value is the sketch's own serialized form, which starts with its magic
// (see internal/pds/sketch), so the loader can rebuild the right type.
//
// EOF Marker: 0xFF.
//
// Checksum: CRC64 (ISO polynomial) over every preceding byte, little-endian.
//
// Loading trusts the stored shard ID and inserts without rehashing; the
// checksum catches corruption.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"

	"approx.lopezb.com/internal/pds/sketch"
)

const persistenceMagic = "SKS1"

// shardCount is the number of independent maps.
const shardCount = 256

// Opcodes for the binary snapshot format.
const (
	OpCodeShardData = 0xFE
	OpCodeEOF       = 0xFF
)

var (
	ErrInvalidSnapshotHeader = errors.New("invalid snapshot header")
	ErrChecksumMismatch      = errors.New("snapshot corruption: checksum mismatch")
)

// Shard is a single slice of the store with its own lock.
type Shard struct {
	mu   sync.RWMutex
	data map[string]sketch.Sketch
}

// Store routes keys to shards.
type Store struct {
	shards [shardCount]*Shard
}

// NewStore creates an empty sharded store.
func NewStore() *Store {
	s := &Store{}
	for i := range shardCount {
		s.shards[i] = &Shard{
			data: make(map[string]sketch.Sketch),
		}
	}
	return s
}

func (s *Store) getShardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[s.getShardIndex(key)]
}

// Set stores a sketch, replacing whatever the key held.
func (s *Store) Set(key string, value sketch.Sketch) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

// Delete removes a key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	_, ok := shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return ok
}

// Len returns the number of keys across all shards.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.data)
		shard.mu.RUnlock()
	}
	return n
}

// View runs fn under the shard's read lock. fn receives nil for a missing
// key and must not modify the sketch.
func (s *Store) View(key string, fn func(current sketch.Sketch) error) error {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return fn(shard.data[key])
}

// Mutate runs fn under the shard's write lock. fn receives the current
// sketch (nil if missing) and may change it in place. When fn reports
// changed, its returned sketch is stored under key.
func (s *Store) Mutate(key string, fn func(current sketch.Sketch) (sketch.Sketch, bool)) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	newValue, changed := fn(shard.data[key])
	if changed {
		shard.data[key] = newValue
	}
}

// SaveSnapshotToWriter writes every sketch to w in the SKS1 format.
//
// Each shard is serialized into a RAM buffer under its read lock; the lock
// is released before the buffer is written out.
func (s *Store) SaveSnapshotToWriter(w io.Writer) error {
	checksum := crc64.New(crc64.MakeTable(crc64.ISO))
	bw := bufio.NewWriter(io.MultiWriter(w, checksum))

	if _, err := bw.WriteString(persistenceMagic); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	lenBuf := make([]byte, 4)

	for i := range shardCount {
		if err := s.shards[i].encode(shardBuf, byte(i), lenBuf); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
		if shardBuf.Len() == 0 {
			continue
		}
		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(OpCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum itself is not hashed.
	return binary.Write(w, binary.LittleEndian, checksum.Sum64())
}

// encode fills buf with the shard's block, or leaves it empty when the shard
// holds no keys.
func (sh *Shard) encode(buf *bytes.Buffer, id byte, lenBuf []byte) error {
	buf.Reset()

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if len(sh.data) == 0 {
		return nil
	}

	buf.WriteByte(OpCodeShardData)
	buf.WriteByte(id)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(sh.data)))
	buf.Write(lenBuf)

	for k, v := range sh.data {
		value, err := v.MarshalBinary()
		if err != nil {
			buf.Reset()
			return fmt.Errorf("key %q: %w", k, err)
		}

		binary.LittleEndian.PutUint32(lenBuf, uint32(len(k)))
		buf.Write(lenBuf)
		buf.WriteString(k)

		binary.LittleEndian.PutUint32(lenBuf, uint32(len(value)))
		buf.Write(lenBuf)
		buf.Write(value)
	}
	return nil
}

// LoadSnapshotFromReader restores sketches from SKS1 data. It consumes
// exactly the snapshot, checksum included. Keys are inserted as they are
// decoded, so on error the store may hold a partial load.
func (s *Store) LoadSnapshotFromReader(r *bufio.Reader) error {
	header := make([]byte, len(persistenceMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if string(header) != persistenceMagic {
		return ErrInvalidSnapshotHeader
	}

	hasher := crc64.New(crc64.MakeTable(crc64.ISO))
	hasher.Write(header)

	// Everything read from here on is hashed.
	tr := io.TeeReader(r, hasher)

	lenBuf := make([]byte, 4)
	readLen := func() (uint32, error) {
		if _, err := io.ReadFull(tr, lenBuf); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(lenBuf), nil
	}

	opcode := make([]byte, 2)
	for {
		if _, err := io.ReadFull(tr, opcode[:1]); err != nil {
			return err
		}
		if opcode[0] == OpCodeEOF {
			break
		}
		if opcode[0] != OpCodeShardData {
			return fmt.Errorf("snapshot stream corruption: unexpected opcode %x", opcode[0])
		}

		if _, err := io.ReadFull(tr, opcode[1:2]); err != nil {
			return err
		}
		shard := s.shards[int(opcode[1])]

		count, err := readLen()
		if err != nil {
			return err
		}

		for range count {
			kLen, err := readLen()
			if err != nil {
				return err
			}
			key := make([]byte, kLen)
			if _, err := io.ReadFull(tr, key); err != nil {
				return err
			}

			vLen, err := readLen()
			if err != nil {
				return err
			}
			value := make([]byte, vLen)
			if _, err := io.ReadFull(tr, value); err != nil {
				return err
			}

			sk, err := sketch.Decode(value)
			if err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			shard.data[string(key)] = sk
		}
	}

	stored := make([]byte, 8)
	if _, err := io.ReadFull(r, stored); err != nil {
		return err
	}
	if binary.LittleEndian.Uint64(stored) != hasher.Sum64() {
		return ErrChecksumMismatch
	}
	return nil
}
