package munbox

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/dafo123/munbox/internal/crc16"
	"github.com/stretchr/testify/require"
)

const sit5TestBase = 96 // first entry offset used by the fixtures

// sit5FileEntry lays out one version-1 (Mac) file entry with stored forks.
func sit5FileEntry(name string, data, rsrc []byte, sibling uint32) []byte {
	hdr2loc := 48 + len(name)
	size := hdr2loc + 32 + 4
	if rsrc != nil {
		size += 14
	}
	b := make([]byte, size)
	copy(b, "\xa5\xa5\xa5\xa5")
	b[4] = 1 // version: Mac structure
	binary.BigEndian.PutUint16(b[6:], uint16(hdr2loc))
	binary.BigEndian.PutUint32(b[14:], 2843261322) // mod date
	binary.BigEndian.PutUint32(b[22:], sibling)
	binary.BigEndian.PutUint16(b[30:], uint16(len(name)))
	binary.BigEndian.PutUint32(b[34:], uint32(len(data)))
	binary.BigEndian.PutUint32(b[38:], uint32(len(data)))
	binary.BigEndian.PutUint16(b[42:], crc16.Checksum(data))
	// method and password length stay zero
	copy(b[48:], name)

	h2 := b[hdr2loc:]
	copy(h2[4:], "TEXT")
	copy(h2[8:], "ttxt")
	binary.BigEndian.PutUint16(h2[12:], 0x0400)
	if rsrc != nil {
		h2[1] |= 1
		h3 := b[hdr2loc+36:]
		binary.BigEndian.PutUint32(h3, uint32(len(rsrc)))
		binary.BigEndian.PutUint32(h3[4:], uint32(len(rsrc)))
		binary.BigEndian.PutUint16(h3[8:], crc16.Checksum(rsrc))
	}
	b = append(b, rsrc...)
	return append(b, data...)
}

func sit5DirEntry(name string, sibling, childOffset uint32, childCount byte) []byte {
	hdr2loc := 48 + len(name)
	b := make([]byte, hdr2loc+32+4)
	copy(b, "\xa5\xa5\xa5\xa5")
	b[4] = 1
	binary.BigEndian.PutUint16(b[6:], uint16(hdr2loc))
	b[9] = 0x40 // directory
	binary.BigEndian.PutUint32(b[14:], 2843261322)
	binary.BigEndian.PutUint32(b[22:], sibling)
	binary.BigEndian.PutUint16(b[30:], uint16(len(name)))
	binary.BigEndian.PutUint32(b[34:], childOffset)
	b[47] = childCount
	copy(b[48:], name)
	return b
}

func buildSit5(count byte, entries ...[]byte) []byte {
	out := make([]byte, sit5TestBase)
	copy(out, "StuffIt (c)1997-2002 Aladdin Systems, Inc., http://www.aladdinsys.com/StuffIt/\x0d\x0a")
	binary.BigEndian.PutUint32(out[88:], sit5TestBase)
	out[93] = count
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func TestSit5TwoLevels(t *testing.T) {
	data1 := []byte("top level data")
	kidData := []byte("kid data")
	kidRsrc := []byte("kid rsrc")

	// fix the layout: file "top", then dir "D", then its child "kid"
	topLen := len(sit5FileEntry("top", data1, nil, 0))
	dirLen := len(sit5DirEntry("D", 0, 0, 1))
	dirBase := uint32(sit5TestBase + topLen)
	kidBase := dirBase + uint32(dirLen)

	arc := buildSit5(2, // two root children: the file and the directory
		sit5FileEntry("top", data1, nil, dirBase),
		sit5DirEntry("D", 0, kidBase, 1),
		sit5FileEntry("kid", kidData, kidRsrc, 0),
	)

	l, err := NewSit5(NewMem(arc))
	require.NoError(t, err)
	defer l.Close()

	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "top", info.Name)
	require.Equal(t, ForkData, info.Fork)
	require.Equal(t, [4]byte{'T', 'E', 'X', 'T'}, info.Type)
	require.Equal(t, uint16(0x0400), info.FinderFlags)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, data1, got)

	info, err = l.Open(Next)
	require.NoError(t, err)
	require.Equal(t, "D/kid", info.Name)
	require.Equal(t, ForkData, info.Fork)
	got, _ = io.ReadAll(l)
	require.Equal(t, kidData, got)

	info, err = l.Open(Next)
	require.NoError(t, err)
	require.Equal(t, "D/kid", info.Name)
	require.Equal(t, ForkResource, info.Fork)
	got, _ = io.ReadAll(l)
	require.Equal(t, kidRsrc, got)

	_, err = l.Open(Next)
	require.Equal(t, io.EOF, err)
}

func TestSit5Reject(t *testing.T) {
	_, err := NewSit5(NewMem([]byte("StuffIt but not really the banner, and padding to make it long enough for detection. More padding here.")))
	require.ErrorIs(t, err, ErrFormat)
}

func TestSit5BadEntryMagic(t *testing.T) {
	arc := buildSit5(1, sit5FileEntry("x", []byte("d"), nil, 0))
	arc[sit5TestBase] = 0x00 // break the entry magic
	_, err := NewSit5(NewMem(arc))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestSit5DetectedByProcess(t *testing.T) {
	arc := buildSit5(1, sit5FileEntry("f", []byte("sit5 payload"), nil, 0))
	l, err := Process(NewMem(arc))
	require.NoError(t, err)
	defer l.Close()
	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "f", info.Name)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("sit5 payload"), got)
}
