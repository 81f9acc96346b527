// Package munbox extracts classic Macintosh archives and transport
// encodings: StuffIt (SIT, SIT5), Compact Pro (CPT), BinHex 4.0 (HQX) and
// MacBinary (BIN). Formats are expressed as stackable layers; Process
// auto-detects and stacks them until the innermost per-file, per-fork byte
// streams are exposed.
package munbox

import (
	"errors"
	"strings"
	"time"

	"github.com/dafo123/munbox/internal/macroman"
)

// Which selects the fork positioned by Layer.Open.
type Which int

const (
	First Which = iota // rewind to the first fork of the first file
	Next               // advance to the next fork, crossing file boundaries
)

// ForkType distinguishes the two byte streams a Mac file can carry.
type ForkType uint8

const (
	ForkData ForkType = iota
	ForkResource
)

func (t ForkType) String() string {
	if t == ForkResource {
		return "resource"
	}
	return "data"
}

// FileInfo describes the fork a Layer is positioned at.
//
// Across the forks of one file only Fork and Length change; Name, Type,
// Creator and FinderFlags are stable. Length is exact: it equals the number
// of bytes Read will return before io.EOF.
type FileInfo struct {
	Name        string // path within the container, "/"-separated, UTF-8 best effort
	Type        [4]byte
	Creator     [4]byte
	FinderFlags uint16
	Fork        ForkType
	Length      uint32
	ModTime     time.Time // zero when the container carries no dates
	HasMetadata bool
}

// Layer is a uniform handle over a source, a transport decoding or an
// archive. A leaf source yields a single data fork; a transform yields the
// forks of one file; an archive yields many files of 1-2 forks each, the
// resource fork (when present) immediately after its data fork.
//
// Open returns (nil, io.EOF) once the forks are exhausted. Read before a
// successful Open(First) returns ErrUsage. Any error other than io.EOF is
// sticky: every later Open or Read repeats it.
//
// A constructed layer owns its input layer; Close releases the whole chain
// exactly once. Layers are not safe for concurrent use.
type Layer interface {
	Open(which Which) (*FileInfo, error)
	Read(p []byte) (int, error)
	Close() error
}

// macName decodes a stored filename: Mac OS Roman to UTF-8, with the "/"
// path separator swapped for the Mac-style ":" so emitted paths stay
// unambiguous.
func macName(b []byte) string {
	return strings.ReplaceAll(macroman.String(b), "/", ":")
}

var (
	// ErrFormat is the detection reject: the stream is not of this format.
	// Process consumes it; it is never a user-visible failure.
	ErrFormat = errors.New("format not recognized")

	ErrCorrupt     = errors.New("malformed data")
	ErrChecksum    = errors.New("checksum mismatch")
	ErrTruncated   = errors.New("unexpected end of data")
	ErrUnsupported = errors.New("unsupported compression method")
	ErrUsage       = errors.New("read before open")
	ErrPassword    = errors.New("password protected entry")
)
