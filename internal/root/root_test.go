package root

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/casc/internal/casctype"
	"github.com/meigma/casc/internal/testutil"
)

type fakeEncoding map[casctype.ContentHash][]casctype.EKey

func (f fakeEncoding) Keys(hash []byte) ([]casctype.EKey, bool) {
	var h casctype.ContentHash
	copy(h[:], hash)
	keys, ok := f[h]
	return keys, ok
}

type fakeIndex map[casctype.EKey]bool

func (f fakeIndex) Contains(key casctype.EKey) bool {
	return f[key]
}

func chash(b byte) casctype.ContentHash {
	var h casctype.ContentHash
	for i := range h {
		h[i] = b
	}
	return h
}

func ekey(b byte) casctype.EKey {
	return casctype.EKeyFromBytes(bytes.Repeat([]byte{b}, casctype.EKeySize))
}

// resolvable returns collaborators under which every hash in hashes is reachable.
func resolvable(hashes ...casctype.ContentHash) (fakeEncoding, fakeIndex) {
	enc := fakeEncoding{}
	idx := fakeIndex{}
	for _, h := range hashes {
		k := ekey(h[0])
		enc[h] = []casctype.EKey{k}
		idx[k] = true
	}
	return enc, idx
}

func TestParse(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1), chash(2), chash(3))
	data := testutil.BuildRoot(t,
		[]testutil.RootRecord{
			{FileDataID: 10, ContentHash: chash(1), NameHash: 0xAAAA},
			{FileDataID: 11, ContentHash: chash(2), NameHash: 0xBBBB},
			{FileDataID: 500, ContentHash: chash(3), NameHash: 0xCCCC},
		},
		[]testutil.RootRecord{
			{FileDataID: 10, ContentHash: chash(2), NameHash: 0xAAAA},
		},
	)

	table, stats, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Blocks: 2, Records: 4}, stats)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, 4, table.Records())

	assert.Equal(t, []Record{
		{ContentHash: chash(1), FileDataID: 10},
		{ContentHash: chash(2), FileDataID: 10},
	}, table.Get(0xAAAA))
	assert.Equal(t, []Record{{ContentHash: chash(3), FileDataID: 500}}, table.Get(0xCCCC))
}

func TestParseDeltaDecoding(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	ids := []uint32{3, 4, 9, 9, 1000000}
	var recs []testutil.RootRecord
	for i, id := range ids {
		recs = append(recs, testutil.RootRecord{FileDataID: id, ContentHash: chash(1), NameHash: uint64(i)})
	}

	table, _, err := Parse(bytes.NewReader(testutil.BuildRoot(t, recs)), enc, idx)
	require.NoError(t, err)
	for i, id := range ids {
		got := table.Get(uint64(i))
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].FileDataID, "record %d", i)
	}
}

func TestParseDropsOrphans(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	// Known to encoding, but its only key is missing from the index.
	enc[chash(2)] = []casctype.EKey{ekey(0xEE)}

	data := testutil.BuildRoot(t, []testutil.RootRecord{
		{FileDataID: 1, ContentHash: chash(1), NameHash: 1},
		{FileDataID: 2, ContentHash: chash(2), NameHash: 2},
		{FileDataID: 3, ContentHash: chash(3), NameHash: 3},
	})
	table, stats, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Orphans)
	assert.Equal(t, 1, stats.Records)
	assert.NotNil(t, table.Get(1))
	assert.Nil(t, table.Get(2), "content without an indexed key is excluded")
	assert.Nil(t, table.Get(3), "content unknown to encoding is excluded")
}

func TestParseAnyIndexedKeySuffices(t *testing.T) {
	t.Parallel()

	enc := fakeEncoding{chash(1): {ekey(0x01), ekey(0x02)}}
	idx := fakeIndex{ekey(0x02): true}
	data := testutil.BuildRoot(t, []testutil.RootRecord{{FileDataID: 1, ContentHash: chash(1), NameHash: 7}})

	table, stats, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)
	assert.Zero(t, stats.Orphans)
	assert.Len(t, table.Get(7), 1)
}

func TestGetAbsentDoesNotMutate(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	data := testutil.BuildRoot(t, []testutil.RootRecord{{FileDataID: 1, ContentHash: chash(1), NameHash: 1}})
	table, _, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)

	assert.Nil(t, table.Get(42))
	assert.Nil(t, table.Get(42))
	assert.Equal(t, 1, table.Len())
}

func TestByFileDataID(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1), chash(2))
	data := testutil.BuildRoot(t, []testutil.RootRecord{
		{FileDataID: 5, ContentHash: chash(1), NameHash: 0x55},
		{FileDataID: 6, ContentHash: chash(2), NameHash: 0x66},
	})
	table, _, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)

	hash, recs, ok := table.ByFileDataID(6)
	require.True(t, ok)
	assert.Equal(t, uint64(0x66), hash)
	assert.Equal(t, []Record{{ContentHash: chash(2), FileDataID: 6}}, recs)

	_, _, ok = table.ByFileDataID(7)
	assert.False(t, ok)
}

func TestByFileDataIDUsesFileOrder(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	blocks := make([][]testutil.RootRecord, 0, 16)
	for i := range 16 {
		blocks = append(blocks, []testutil.RootRecord{
			{FileDataID: 9, ContentHash: chash(1), NameHash: uint64(0x9900 + 16 - i)},
		})
	}
	table, _, err := Parse(bytes.NewReader(testutil.BuildRoot(t, blocks...)), enc, idx)
	require.NoError(t, err)

	for range 50 {
		hash, recs, ok := table.ByFileDataID(9)
		require.True(t, ok)
		require.Equal(t, uint64(0x9910), hash)
		require.Len(t, recs, 1)
	}

	var order []uint64
	for hash := range table.All() {
		order = append(order, hash)
	}
	require.Len(t, order, 16)
	assert.Equal(t, uint64(0x9910), order[0])
	assert.Equal(t, uint64(0x9901), order[15])
}

func TestAll(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	data := testutil.BuildRoot(t, []testutil.RootRecord{
		{FileDataID: 1, ContentHash: chash(1), NameHash: 1},
		{FileDataID: 2, ContentHash: chash(1), NameHash: 2},
		{FileDataID: 3, ContentHash: chash(1), NameHash: 3},
	})
	table, _, err := Parse(bytes.NewReader(data), enc, idx)
	require.NoError(t, err)

	seen := map[uint64]int{}
	for hash, recs := range table.All() {
		seen[hash] = len(recs)
	}
	assert.Equal(t, map[uint64]int{1: 1, 2: 1, 3: 1}, seen)

	count := 0
	for range table.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestParseEndOfInput(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable(chash(1))
	block := testutil.BuildRoot(t, []testutil.RootRecord{{FileDataID: 1, ContentHash: chash(1), NameHash: 1}})

	tests := []struct {
		name    string
		data    []byte
		records int
	}{
		{"empty", nil, 0},
		{"partial block header", append(bytes.Clone(block), 1, 0), 1},
		{"partial records", append(bytes.Clone(block), block[:len(block)-3]...), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			table, stats, err := Parse(bytes.NewReader(tc.data), enc, idx)
			require.NoError(t, err)
			assert.Equal(t, tc.records, table.Records())
			assert.Equal(t, tc.records, stats.Records)
		})
	}
}

func TestParseRejectsHugeBlock(t *testing.T) {
	t.Parallel()

	enc, idx := resolvable()
	data := binary.LittleEndian.AppendUint32(nil, maxBlockRecords+1)
	data = append(data, make([]byte, 8)...)

	_, _, err := Parse(bytes.NewReader(data), enc, idx)
	require.ErrorIs(t, err, casctype.ErrFormat)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestParsePropagatesReadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	enc, idx := resolvable()
	_, _, err := Parse(io.MultiReader(bytes.NewReader(make([]byte, 4)), failingReader{boom}), enc, idx)
	require.ErrorIs(t, err, boom)
}
