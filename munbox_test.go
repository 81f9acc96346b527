package munbox

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessRawStreamPassesThrough(t *testing.T) {
	raw := []byte("nothing recognizable about this stream at all")
	l, err := Process(NewMem(raw))
	require.NoError(t, err)
	defer l.Close()

	// detection must not have consumed anything
	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, ForkData, info.Fork)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestProcessBareSit(t *testing.T) {
	arc := sitArchive(1, sitRecord(sitRecordDef{
		name: "a.txt", typ: "TEXT", creator: "ttxt", data: storedFork([]byte("abcd")),
	}))
	l, err := Process(NewMem(arc))
	require.NoError(t, err)
	defer l.Close()

	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "a.txt", info.Name)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), got)
}

func TestProcessHQXWrappedSit(t *testing.T) {
	// scenario: a one-file StuffIt archive inside a BinHex envelope; the
	// driver must build HQX then SIT and surface the inner file unchanged
	arc := sitArchive(1, sitRecord(sitRecordDef{
		name: "inner.txt", typ: "TEXT", creator: "ttxt",
		data: storedFork([]byte("the inner payload")),
	}))
	env := buildHQX(hqxFixture{name: "inner.sit", typ: "SIT!", creator: "SIT!", data: arc})

	l, err := Process(NewMem(env))
	require.NoError(t, err)
	defer l.Close()

	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "inner.txt", info.Name)
	require.Equal(t, ForkData, info.Fork)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("the inner payload"), got)
	_, err = l.Open(Next)
	require.Equal(t, io.EOF, err)
}

func TestProcessTripleNesting(t *testing.T) {
	// HQX around MacBinary around StuffIt
	arc := sitArchive(1, sitRecord(sitRecordDef{
		name: "deep", typ: "TEXT", creator: "ttxt", data: storedFork([]byte("down here")),
	}))
	mb := buildBin(binFixture{name: "deep.sit", typ: "SIT!", creator: "SIT!", data: arc})
	env := buildHQX(hqxFixture{name: "deep.sit", typ: "SIT!", creator: "SIT!", data: mb})

	l, err := Process(NewMem(env))
	require.NoError(t, err)
	defer l.Close()

	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "deep", info.Name)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("down here"), got)
}

func TestProcessBinWrappedCpt(t *testing.T) {
	arc := buildCpt(cptTestEntry{
		name: "c", typ: "TEXT", creator: "ttxt", data: cptStored([]byte("cpt bytes")),
	})
	mb := buildBin(binFixture{name: "c.cpt", typ: "PACT", creator: "CPCT", data: arc})

	l, err := Process(NewMem(mb))
	require.NoError(t, err)
	defer l.Close()
	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "c", info.Name)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("cpt bytes"), got)
}

func TestProcessRewindsWholeChain(t *testing.T) {
	arc := sitArchive(1, sitRecord(sitRecordDef{
		name: "r", typ: "TEXT", creator: "ttxt", data: storedFork([]byte("again and again")),
	}))
	env := buildHQX(hqxFixture{name: "r.sit", typ: "SIT!", creator: "SIT!", data: arc})
	l, err := Process(NewMem(env))
	require.NoError(t, err)
	defer l.Close()

	for range 3 {
		_, err := l.Open(First)
		require.NoError(t, err)
		got, err := io.ReadAll(l)
		require.NoError(t, err)
		require.Equal(t, []byte("again and again"), got)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(p, []byte("file bytes"), 0o644))

	l, err := NewFile(p)
	require.NoError(t, err)
	defer l.Close()

	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, uint32(10), info.Length)
	require.False(t, info.HasMetadata)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("file bytes"), got)

	// rewindable, and Next exhausts
	_, err = l.Open(First)
	require.NoError(t, err)
	_, err = l.Open(Next)
	require.Equal(t, io.EOF, err)
}

func TestFileSourceMissing(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "no such file"))
	require.Error(t, err)
}

func TestMemSourceUsage(t *testing.T) {
	l := NewMem([]byte("abc"))
	_, err := l.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrUsage)
	// sticky even after a would-be-valid open
	_, err = l.Open(First)
	require.Error(t, err)
}

func TestProcessThroughFile(t *testing.T) {
	arc := sitArchive(1, sitRecord(sitRecordDef{
		name: "ondisk", typ: "TEXT", creator: "ttxt", data: storedFork([]byte("from a file")),
	}))
	p := filepath.Join(t.TempDir(), "a.sit")
	require.NoError(t, os.WriteFile(p, arc, 0o644))

	src, err := NewFile(p)
	require.NoError(t, err)
	l, err := Process(src)
	require.NoError(t, err)
	defer l.Close()
	info, err := l.Open(First)
	require.NoError(t, err)
	require.Equal(t, "ondisk", info.Name)
	got, err := io.ReadAll(l)
	require.NoError(t, err)
	require.Equal(t, []byte("from a file"), got)
}

func TestPeekNonDestructive(t *testing.T) {
	// every constructor rejects; the bytes they peeked must replay intact
	raw := bytes.Repeat([]byte{0x00, 0x90, 0xa5, 0x5a}, 64)
	p := asPeek(NewMem(raw))
	for _, c := range constructors {
		_, err := c.build(p)
		require.ErrorIs(t, err, ErrFormat, c.name)
	}
	got, err := io.ReadAll(readerOnly{p})
	require.NoError(t, err)
	require.Equal(t, raw, got)
}
