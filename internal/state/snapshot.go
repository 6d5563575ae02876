package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const snapshotExt = ".jsonl.zst"

// snapshotHeader is the first line of a snapshot file.
type snapshotHeader struct {
	Channel string `json:"channel"`
	Pts     int64  `json:"pts"`
}

// snapshotEntry is one replica entry per line after the header.
type snapshotEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Save writes one zstd-compressed JSONL snapshot per channel into dir,
// via a temp file and atomic rename, so a crash mid-write never leaves
// a torn snapshot behind.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	for _, channel := range s.Channels() {
		snap, ok := s.Snapshot(channel)
		if !ok {
			continue
		}
		if err := writeSnapshot(dir, snap); err != nil {
			return fmt.Errorf("saving channel %s: %w", channel, err)
		}
	}
	return nil
}

func writeSnapshot(dir string, snap ChannelSnapshot) error {
	destPath := filepath.Join(dir, snap.Channel+snapshotExt)
	tmpPath := destPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	err = encodeSnapshot(f, snap)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap ChannelSnapshot) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	if err := enc.Encode(snapshotHeader{Channel: snap.Channel, Pts: snap.Pts}); err != nil {
		_ = zw.Close()
		return err
	}
	for key, value := range snap.Entries {
		if err := enc.Encode(snapshotEntry{Key: key, Value: value}); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

// Load reads every snapshot in dir back into the store. Missing dir is
// not an error; a corrupt snapshot is skipped with a warning so one bad
// file cannot block startup.
func (s *Store) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading snapshot directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.loadSnapshot(path); err != nil {
			s.logger.Warn("skipping unreadable snapshot",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Store) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return fmt.Errorf("empty snapshot")
	}
	var header snapshotHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return fmt.Errorf("decoding header: %w", err)
	}
	if header.Channel == "" {
		return fmt.Errorf("snapshot header has no channel")
	}

	replica := make(map[string]json.RawMessage)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e snapshotEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("decoding entry: %w", err)
		}
		replica[e.Key] = e.Value
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.ReplaceSnapshot(header.Channel, header.Pts, replica)
	s.logger.Info("loaded snapshot",
		zap.String("channel", header.Channel),
		zap.Int64("pts", header.Pts),
		zap.Int("entries", len(replica)),
	)
	return nil
}
