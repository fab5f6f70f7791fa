// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a checkpoint
// payload. The tag is the first byte of every checkpoint file, so
// these values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the serialized notebook as-is. Used when
	// compression would not shrink the payload.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression, the fast option.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level, the best fit for
	// the JSON a notebook serializes to and the default choice.
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a tag from its configuration name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("notebook: unknown compression %q", name)
	}
}

// checkpointExtension is the suffix of every checkpoint file.
const checkpointExtension = ".ckpt"

// checkpointHeaderSize is the fixed prefix of a checkpoint file: one
// tag byte and the big-endian uncompressed payload length.
const checkpointHeaderSize = 1 + 4

// The zstd coder pair is shared across checkpoints; both are safe for
// concurrent use.
var (
	checkpointEncoder *zstd.Encoder
	checkpointDecoder *zstd.Decoder
)

func init() {
	var err error
	checkpointEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("notebook: zstd encoder initialization failed: " + err.Error())
	}
	checkpointDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("notebook: zstd decoder initialization failed: " + err.Error())
	}
}

// CheckpointOptions adjust where snapshots go and how many survive.
type CheckpointOptions struct {
	// Dir is the checkpoint directory. Empty derives
	// ".thyone-checkpoint" next to the notebook file.
	Dir string

	// Keep is how many snapshots to retain per notebook, newest first.
	// Zero means 10; negative keeps everything.
	Keep int

	// Compression names the payload encoding: "zstd" (the default),
	// "lz4", or "none".
	Compression string
}

const defaultCheckpointKeep = 10

// CheckpointDir returns the default snapshot directory for a notebook
// path.
func CheckpointDir(notebookPath string) string {
	return filepath.Join(filepath.Dir(notebookPath), ".thyone-checkpoint")
}

// WriteCheckpoint snapshots the notebook into the checkpoint
// directory and prunes snapshots beyond the retention limit. It
// returns the path written. The write is atomic; a crash never leaves
// a partial snapshot behind with a valid name.
func (nb *Notebook) WriteCheckpoint(notebookPath string, opts CheckpointOptions) (string, error) {
	payload, err := nb.Write()
	if err != nil {
		return "", err
	}

	tag, err := ParseCompressionTag(opts.Compression)
	if err != nil {
		return "", err
	}
	encoded, tag, err := compressCheckpoint(payload, tag)
	if err != nil {
		return "", err
	}

	dir := opts.Dir
	if dir == "" {
		dir = CheckpointDir(notebookPath)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("notebook: creating checkpoint directory: %w", err)
	}

	header := make([]byte, checkpointHeaderSize, checkpointHeaderSize+len(encoded))
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	data := append(header, encoded...)

	base := checkpointBase(notebookPath)
	name := fmt.Sprintf("%s.%s%s", base, time.Now().UTC().Format("20060102T150405.000000000"), checkpointExtension)
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("notebook: creating temporary checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("notebook: writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("notebook: closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("notebook: installing checkpoint: %w", err)
	}

	keep := opts.Keep
	if keep == 0 {
		keep = defaultCheckpointKeep
	}
	if keep > 0 {
		pruneCheckpoints(dir, base, keep)
	}
	return path, nil
}

// ReadCheckpoint loads a snapshot written by WriteCheckpoint.
func ReadCheckpoint(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notebook: reading checkpoint: %w", err)
	}
	if len(data) < checkpointHeaderSize {
		return nil, fmt.Errorf("notebook: checkpoint %s is truncated", filepath.Base(path))
	}
	tag := CompressionTag(data[0])
	size := int(binary.BigEndian.Uint32(data[1:checkpointHeaderSize]))
	payload, err := decompressCheckpoint(data[checkpointHeaderSize:], tag, size)
	if err != nil {
		return nil, fmt.Errorf("notebook: checkpoint %s: %w", filepath.Base(path), err)
	}
	nb, err := Read(payload)
	if err != nil {
		return nil, fmt.Errorf("notebook: checkpoint %s: %w", filepath.Base(path), err)
	}
	return nb, nil
}

// Checkpoints lists the snapshots for a notebook, newest first. The
// timestamped names sort chronologically, so no stat calls needed.
func Checkpoints(notebookPath string, dir string) ([]string, error) {
	if dir == "" {
		dir = CheckpointDir(notebookPath)
	}
	pattern := filepath.Join(dir, checkpointBase(notebookPath)+".*"+checkpointExtension)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("notebook: listing checkpoints: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// checkpointBase is the notebook filename without its extension, the
// prefix shared by all its snapshots.
func checkpointBase(notebookPath string) string {
	base := filepath.Base(notebookPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func pruneCheckpoints(dir, base string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"+checkpointExtension))
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches)
	for _, stale := range matches[:len(matches)-keep] {
		os.Remove(stale)
	}
}

func compressCheckpoint(payload []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return payload, tag, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(payload))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(payload, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("notebook: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(payload) {
			// Incompressible; store raw.
			return payload, CompressionNone, nil
		}
		return dst[:written], tag, nil
	case CompressionZstd:
		compressed := checkpointEncoder.EncodeAll(payload, nil)
		if len(compressed) >= len(payload) {
			return payload, CompressionNone, nil
		}
		return compressed, tag, nil
	default:
		return nil, 0, fmt.Errorf("notebook: unsupported compression tag %d", tag)
	}
}

func decompressCheckpoint(encoded []byte, tag CompressionTag, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(encoded) != size {
			return nil, fmt.Errorf("raw payload is %d bytes, header says %d", len(encoded), size)
		}
		return encoded, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(encoded, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header says %d", read, size)
		}
		return dst, nil
	case CompressionZstd:
		result, err := checkpointDecoder.DecodeAll(encoded, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header says %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}
