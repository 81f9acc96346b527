// Package appledouble writes the `._name` sidecar representation of a
// classic Mac file's metadata and resource fork: magic, version, 16 filler
// bytes, a descriptor table, then the entry payloads. Appending a resource
// fork after the header exists rewrites the table with the new entry count
// and patched offsets.
package appledouble

import (
	"encoding/binary"
	"io"
	"time"
)

const (
	RESOURCE_FORK   = 2
	FILE_DATES_INFO = 8
	FINDER_INFO     = 9 // FinderInfo (16) + FinderXInfo (16)

	headerSize  = 26 // magic + version + filler + entry count
	descSize    = 12
	macEpochOff = 2082844800
)

// FinderInfo is the slice of metadata a sidecar always carries.
type FinderInfo struct {
	Type    [4]byte
	Creator [4]byte
	Flags   uint16
}

type rec struct {
	id      int
	payload []byte
}

// Writer assembles one sidecar file. The short records are kept in memory
// so the prefix can be rewritten when the resource fork arrives.
type Writer struct {
	w       io.WriteSeeker
	recs    []rec
	hasRsrc bool
}

func NewWriter(w io.WriteSeeker) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the sidecar prefix: Finder Info always, File Dates
// Info when a modification time is known.
func (ad *Writer) WriteHeader(fi FinderInfo, modtime time.Time) error {
	finder := make([]byte, 32)
	copy(finder, fi.Type[:])
	copy(finder[4:], fi.Creator[:])
	binary.BigEndian.PutUint16(finder[8:], fi.Flags)
	ad.recs = []rec{{id: FINDER_INFO, payload: finder}}

	if !modtime.IsZero() {
		dates := make([]byte, 16)
		mac := uint32(modtime.Unix() + macEpochOff)
		binary.BigEndian.PutUint32(dates, mac)     // creation, best effort
		binary.BigEndian.PutUint32(dates[4:], mac) // modification
		// File Dates Info sorts before Finder Info by entry id
		ad.recs = []rec{{id: FILE_DATES_INFO, payload: dates}, ad.recs[0]}
	}
	return ad.writePrefix()
}

func (ad *Writer) writePrefix() error {
	n := len(ad.recs)
	if ad.hasRsrc {
		n++
	}
	buf := make([]byte, 0, 128)
	buf = binary.BigEndian.AppendUint32(buf, 0x00051607)
	buf = binary.BigEndian.AppendUint32(buf, 0x00020000)
	buf = append(buf, make([]byte, 16)...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(n))

	offset := headerSize + descSize*n
	for _, r := range ad.recs {
		buf = binary.BigEndian.AppendUint32(buf, uint32(r.id))
		buf = binary.BigEndian.AppendUint32(buf, uint32(offset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.payload)))
		offset += len(r.payload)
	}
	if ad.hasRsrc {
		// length is patched once the fork has been copied
		buf = binary.BigEndian.AppendUint32(buf, RESOURCE_FORK)
		buf = binary.BigEndian.AppendUint32(buf, uint32(offset))
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}
	for _, r := range ad.recs {
		buf = append(buf, r.payload...)
	}

	if _, err := ad.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ad.w.Write(buf)
	return err
}

// AppendResourceFork grows the descriptor table by one entry, shifts the
// payloads accordingly and streams the fork to the end of the file.
func (ad *Writer) AppendResourceFork(r io.Reader) (int64, error) {
	ad.hasRsrc = true
	if err := ad.writePrefix(); err != nil {
		return 0, err
	}
	n, err := io.Copy(ad.w, r)
	if err != nil {
		return n, err
	}
	// patch the resource fork descriptor's length field
	lenField := int64(headerSize + descSize*len(ad.recs) + 8)
	if _, err := ad.w.Seek(lenField, io.SeekStart); err != nil {
		return n, err
	}
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(n))
	if _, err := ad.w.Write(sz[:]); err != nil {
		return n, err
	}
	_, err = ad.w.Seek(0, io.SeekEnd)
	return n, err
}

// Sidecar returns the `._name` form of a path's final element.
func Sidecar(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i+1] + "._" + path[i+1:]
		}
	}
	return "._" + path
}
