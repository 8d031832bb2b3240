package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"factorscan/pkg/model"
)

// SnapshotVersion is bumped when the snapshot layout changes
const SnapshotVersion = 1

// Snapshot is the on-disk msgpack envelope
type Snapshot struct {
	Version   int         `msgpack:"v"`
	CreatedAt time.Time   `msgpack:"t"`
	Bars      []model.Bar `msgpack:"b"`
}

// WriteSnapshot encodes bars as a msgpack snapshot
func WriteSnapshot(w io.Writer, bars []model.Bar) error {
	snap := Snapshot{
		Version:   SnapshotVersion,
		CreatedAt: time.Now().UTC(),
		Bars:      bars,
	}
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot
func ReadSnapshot(r io.Reader) ([]model.Bar, error) {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", model.ErrInvalidRecord, snap.Version, SnapshotVersion)
	}
	for i := range snap.Bars {
		snap.Bars[i].Date = model.DateOf(snap.Bars[i].Date.UTC())
	}
	return snap.Bars, nil
}

// WriteSnapshotFile writes a snapshot to path
func WriteSnapshotFile(path string, bars []model.Bar) error {
	return writeFile(path, func(w io.Writer) error { return WriteSnapshot(w, bars) })
}

// IsSnapshot reports whether path names a msgpack snapshot
func IsSnapshot(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".msgpack" || ext == ".mp"
}

// Load reads an archive by extension: .msgpack/.mp snapshots, CSV otherwise
func Load(path string, log zerolog.Logger) ([]model.Bar, ReadStats, error) {
	if !IsSnapshot(path) {
		return ReadCSVFile(path, log)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	bars, err := ReadSnapshot(f)
	if err != nil {
		return nil, ReadStats{}, err
	}
	return bars, ReadStats{Rows: len(bars), Accepted: len(bars)}, nil
}

// Save writes bars by extension, mirroring Load
func Save(path string, bars []model.Bar) error {
	if IsSnapshot(path) {
		return WriteSnapshotFile(path, bars)
	}
	return WriteCSVFile(path, bars)
}
