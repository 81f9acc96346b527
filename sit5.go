package munbox

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/dafo123/munbox/internal/forkcache"
)

// StuffIt 5: an 80-byte text banner, the offset of the first root entry at
// byte 88 and the root entry count at byte 93. Entries start with A5A5A5A5
// and disclose themselves progressively: a 48-byte first header, optional
// password data, the name, a second header at the offset the first one
// declares, and a 14-byte resource-fork extension when flagged. Fork bytes
// follow the header, resource fork first.

const sit5Banner = "StuffIt (c)1997-"

// NewSit5 wraps inner in a StuffIt 5 archive reader.
func NewSit5(inner Layer) (Layer, error) {
	src := asPeek(inner)
	head, err := src.Peek(94)
	if err != nil {
		return nil, err
	}
	if len(head) < 94 || string(head[:len(sit5Banner)]) != sit5Banner {
		return nil, ErrFormat
	}

	buf, err := slurp(src)
	if err != nil {
		return nil, err
	}
	l := &memArchive{
		tag:     "sit5",
		src:     src,
		cacheID: forkcache.NewID(),
		decoder: sitForkReader,
	}
	if err := sit5Parse(l, buf); err != nil {
		return nil, err
	}
	return l, nil
}

func sit5Parse(l *memArchive, buf []byte) error {
	corrupt := func(format string, args ...any) error {
		args = append(args, ErrCorrupt)
		l.err = fmt.Errorf("sit5: "+format+": %w", args...)
		return l.err
	}

	type job struct {
		next   int64 // entry offset
		remain int   // entries left in this directory
		dir    string
	}
	stack := []job{{
		next:   int64(binary.BigEndian.Uint32(buf[88:])),
		remain: int(buf[93]),
	}}

	for len(stack) != 0 {
		top := &stack[len(stack)-1]
		if top.remain == 0 {
			stack = stack[:len(stack)-1]
			continue
		}

		base := top.next
		if base < 0 || base+48 > int64(len(buf)) {
			return corrupt("entry offset %#x", base)
		}
		hdr1 := buf[base : base+48]
		if string(hdr1[:4]) != "\xa5\xa5\xa5\xa5" {
			return corrupt("entry magic at %#x", base)
		}
		version := hdr1[4]
		hdr2loc := int64(binary.BigEndian.Uint16(hdr1[6:]))
		isDir := hdr1[9]&0x40 != 0
		modtime := binary.BigEndian.Uint32(hdr1[14:])
		sibling := binary.BigEndian.Uint32(hdr1[22:])
		nameLen := int64(binary.BigEndian.Uint16(hdr1[30:]))

		ptr := int64(48)
		passwordLen := int64(0)
		if !isDir {
			passwordLen = int64(hdr1[47])
			ptr += passwordLen
		}
		if base+ptr+nameLen > int64(len(buf)) {
			return corrupt("entry name at %#x", base)
		}
		name := macName(buf[base+ptr : base+ptr+nameLen])
		ptr = hdr2loc
		if base+ptr+32 > int64(len(buf)) {
			return corrupt("second header at %#x", base)
		}
		hdr2 := buf[base+ptr : base+ptr+32]
		ptr += 32
		if version <= 1 { // the Mac structure is 4 bytes longer than Windows
			ptr += 4
		}

		var hdr3 [14]byte
		if !isDir && hdr2[1]&1 != 0 { // resource fork data present
			if base+ptr+14 > int64(len(buf)) {
				return corrupt("resource header at %#x", base)
			}
			copy(hdr3[:], buf[base+ptr:])
			ptr += 14
		}

		top.remain--
		top.next = int64(sibling)

		if isDir {
			childOffset := int64(binary.BigEndian.Uint32(hdr1[34:]))
			stack = append(stack, job{
				next:   childOffset,
				remain: int(hdr1[47]),
				dir:    path.Join(top.dir, name),
			})
			continue
		}

		dUnpacked := binary.BigEndian.Uint32(hdr1[34:])
		dPacked := binary.BigEndian.Uint32(hdr1[38:])
		dCRC := binary.BigEndian.Uint16(hdr1[42:])
		dMethod := hdr1[46]
		rUnpacked := binary.BigEndian.Uint32(hdr3[0:])
		rPacked := binary.BigEndian.Uint32(hdr3[4:])
		rCRC := binary.BigEndian.Uint16(hdr3[8:])
		rMethod := hdr3[12]

		rStart := base + ptr
		dStart := rStart + int64(rPacked)
		if dStart+int64(dPacked) > int64(len(buf)) {
			return corrupt("fork data at %#x", base)
		}

		e := archEntry{
			name:     path.Join(top.dir, name),
			flags:    binary.BigEndian.Uint16(hdr2[12:]),
			modtime:  macTime(modtime),
			password: passwordLen != 0,
			offset:   base,
		}
		copy(e.typ[:], hdr2[4:])
		copy(e.creator[:], hdr2[8:])
		e.forks = append(e.forks, archFork{
			fork:     ForkData,
			method:   dMethod,
			raw:      buf[dStart : dStart+int64(dPacked)],
			unpacked: dUnpacked,
			crc:      dCRC,
		})
		if rPacked > 0 || rUnpacked > 0 {
			e.forks = append(e.forks, archFork{
				fork:     ForkResource,
				method:   rMethod,
				raw:      buf[rStart : rStart+int64(rPacked)],
				unpacked: rUnpacked,
				crc:      rCRC,
			})
		}
		l.entries = append(l.entries, e)
	}
	return nil
}
