package munbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"

	"github.com/dafo123/munbox/internal/forkcache"
	"github.com/dafo123/munbox/internal/lzh"
)

// Compact Pro: an 8-byte header pointing at a directory near the end of the
// file. Directory entries nest folders by carrying the count of their
// direct children; file entries point back at their fork bytes, resource
// fork stored first.

const (
	cptEncrypted = 0x0001
	cptRsrcLZH   = 0x0002
	cptDataLZH   = 0x0004
)

// NewCpt wraps inner in a Compact Pro archive reader.
func NewCpt(inner Layer) (Layer, error) {
	src := asPeek(inner)
	head, err := src.Peek(8)
	if err != nil {
		return nil, err
	}
	if len(head) < 8 || head[0] != 0x01 || (head[1] != 0x52 && head[1] != 0x01) || head[2] != 0x00 {
		return nil, ErrFormat
	}

	buf, err := slurp(src)
	if err != nil {
		return nil, err
	}
	l := &memArchive{
		tag:     "cpt",
		src:     src,
		cacheID: forkcache.NewID(),
		decoder: cptForkReader,
	}
	if err := cptParse(l, buf); err != nil {
		return nil, err
	}
	return l, nil
}

func cptForkReader(method uint8, raw []byte, unpacked uint32) (io.Reader, io.Closer, error) {
	switch method {
	case 0:
		return bytes.NewReader(raw), nil, nil
	case 1:
		rc := lzh.NewReader(bytes.NewReader(raw), unpacked)
		return rc, rc, nil
	default:
		return nil, nil, fmt.Errorf("method %d: %w", method, ErrUnsupported)
	}
}

func cptParse(l *memArchive, buf []byte) error {
	corrupt := func(format string, args ...any) error {
		args = append(args, ErrCorrupt)
		return fmt.Errorf("cpt: "+format+": %w", args...)
	}

	dirOffset := int64(binary.BigEndian.Uint32(buf[4:]))
	if dirOffset < 8 || dirOffset >= int64(len(buf)) {
		return corrupt("directory offset %#x", dirOffset)
	}

	d := buf[dirOffset:]
	if len(d) < 3 {
		return corrupt("directory truncated")
	}
	count := int(binary.BigEndian.Uint16(d))
	commentLen := int(d[2])
	d = d[3:]
	if len(d) < commentLen {
		return corrupt("directory comment truncated")
	}
	d = d[commentLen:]

	// A folder entry is followed by its N direct children, each with its own
	// subtree; the stack tracks how many children remain at each level.
	type level struct {
		remain int
		dir    string
	}
	stack := []level{{remain: count}}
	pos := dirOffset + 3 + int64(commentLen)

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.remain == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.remain--

		if len(d) < 1 {
			return corrupt("entry at %#x truncated", pos)
		}
		nameLen := int(d[0] & 0x7f)
		isFolder := d[0]&0x80 != 0
		if len(d) < 1+nameLen {
			return corrupt("entry name at %#x truncated", pos)
		}
		name := macName(d[1 : 1+nameLen])
		entryOffset := pos
		d = d[1+nameLen:]
		pos += int64(1 + nameLen)

		if isFolder {
			if len(d) < 2 {
				return corrupt("folder %q truncated", name)
			}
			children := int(binary.BigEndian.Uint16(d))
			d = d[2:]
			pos += 2
			stack = append(stack, level{remain: children, dir: path.Join(top.dir, name)})
			continue
		}

		if len(d) < 45 {
			return corrupt("file %q truncated", name)
		}
		fileOffset := int64(binary.BigEndian.Uint32(d[1:]))
		flags := binary.BigEndian.Uint16(d[27:])
		rsrcUnpacked := binary.BigEndian.Uint32(d[29:])
		dataUnpacked := binary.BigEndian.Uint32(d[33:])
		rsrcPacked := binary.BigEndian.Uint32(d[37:])
		dataPacked := binary.BigEndian.Uint32(d[41:])

		e := archEntry{
			name:     path.Join(top.dir, name),
			flags:    binary.BigEndian.Uint16(d[21:]),
			modtime:  macTime(binary.BigEndian.Uint32(d[17:])),
			password: flags&cptEncrypted != 0,
			offset:   entryOffset,
		}
		copy(e.typ[:], d[5:])
		copy(e.creator[:], d[9:])
		rsrcCRC := binary.BigEndian.Uint16(d[23:])
		dataCRC := binary.BigEndian.Uint16(d[25:])

		rStart := fileOffset
		dStart := rStart + int64(rsrcPacked)
		if rStart < 8 || dStart+int64(dataPacked) > int64(len(buf)) {
			return corrupt("file %q fork bytes at %#x", name, fileOffset)
		}

		dMethod, rMethod := uint8(0), uint8(0)
		if flags&cptDataLZH != 0 {
			dMethod = 1
		}
		if flags&cptRsrcLZH != 0 {
			rMethod = 1
		}

		e.forks = append(e.forks, archFork{
			fork:     ForkData,
			method:   dMethod,
			raw:      buf[dStart : dStart+int64(dataPacked)],
			unpacked: dataUnpacked,
			crc:      dataCRC,
		})
		if rsrcPacked > 0 || rsrcUnpacked > 0 {
			e.forks = append(e.forks, archFork{
				fork:     ForkResource,
				method:   rMethod,
				raw:      buf[rStart : rStart+int64(rsrcPacked)],
				unpacked: rsrcUnpacked,
				crc:      rsrcCRC,
			})
		}
		l.entries = append(l.entries, e)
		d = d[45:]
		pos += 45
	}
	return nil
}
