package testutil

import (
	"cmp"
	"crypto/md5" //nolint:gosec // content and encoded keys are MD5 hashes
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/meigma/casc/internal/casctype"
	"github.com/meigma/casc/internal/jenkins"
)

// FixtureFile describes one file stored in a fixture installation.
type FixtureFile struct {
	// Name is hashed into the root table. Empty names get no name hash
	// of their own and are filed under hash 0.
	Name       string
	FileDataID uint32
	Data       []byte

	// Encode produces the stored container. Defaults to a single raw chunk.
	Encode func(tb testing.TB, data []byte) []byte

	// Archive is the data archive the blob is written to.
	Archive int

	// Unencoded leaves the content out of the encoding table.
	Unencoded bool

	// Unindexed leaves the blob's key out of the index.
	Unindexed bool

	// Filled in by BuildInstallation.
	ContentHash casctype.ContentHash
	EKey        [16]byte
}

// Installation is a fixture installation written below Root.
type Installation struct {
	Root        string
	DataDir     string
	BuildKey    string
	ConfigPath  string
	Files       []FixtureFile
	EncodingKey [16]byte
	RootKey     [16]byte
}

// InstallationOptions tune BuildInstallation.
type InstallationOptions struct {
	// ChunkSize splits the encoding and root tables into raw chunks.
	ChunkSize int

	// StaleShards writes an unreadable lower-versioned shard next to every
	// bucket's current one.
	StaleShards bool
}

// BuildInstallation writes a complete installation into a temporary
// directory: .build.info, the build configuration, 16 index shards and the
// data archives holding the encoding table, the root table and files.
func BuildInstallation(tb testing.TB, files []FixtureFile, opts InstallationOptions) *Installation {
	tb.Helper()
	root := tb.TempDir()
	inst := &Installation{
		Root:    root,
		DataDir: filepath.Join(root, "Data"),
		Files:   append([]FixtureFile(nil), files...),
	}
	dataDir := filepath.Join(inst.DataDir, "data")
	mustMkdir(tb, dataDir)

	archives := map[int]*Archive{0: {}}
	archives[0].Pad(64)
	var indexed []IndexRecord
	store := func(archive int, ekey [16]byte, blob []byte, index bool) {
		a, ok := archives[archive]
		if !ok {
			a = &Archive{}
			archives[archive] = a
		}
		off, size := a.Add(ekey, blob)
		if index {
			indexed = append(indexed, IndexRecord{
				Key:     casctype.EKeyFromBytes(ekey[:]),
				Archive: archive,
				Offset:  off,
				Size:    size,
			})
		}
	}

	var encEntries []EncodingEntry
	var rootRecs []RootRecord
	for i := range inst.Files {
		f := &inst.Files[i]
		encode := f.Encode
		if encode == nil {
			encode = func(tb testing.TB, data []byte) []byte { return RawBLTE(tb, data, 0) }
		}
		blob := encode(tb, f.Data)
		f.ContentHash = md5.Sum(f.Data) //nolint:gosec // format hash
		f.EKey = md5.Sum(blob)          //nolint:gosec // format hash
		store(f.Archive, f.EKey, blob, !f.Unindexed)
		if !f.Unencoded {
			encEntries = append(encEntries, EncodingEntry{
				Hash:     f.ContentHash[:],
				FileSize: uint32(len(f.Data)), //nolint:gosec // test sizes are small
				Keys:     [][]byte{f.EKey[:]},
			})
		}
		var nameHash uint64
		if f.Name != "" {
			nameHash = jenkins.HashPath(f.Name)
		}
		rootRecs = append(rootRecs, RootRecord{
			FileDataID:  f.FileDataID,
			ContentHash: f.ContentHash,
			NameHash:    nameHash,
		})
	}

	rootData := BuildRoot(tb, sortedByID(rootRecs))
	rootBlob := RawBLTE(tb, rootData, opts.ChunkSize)
	rootCKey := md5.Sum(rootData)    //nolint:gosec // format hash
	inst.RootKey = md5.Sum(rootBlob) //nolint:gosec // format hash
	store(0, inst.RootKey, rootBlob, true)
	encEntries = append(encEntries, EncodingEntry{
		Hash:     rootCKey[:],
		FileSize: uint32(len(rootData)), //nolint:gosec // test sizes are small
		Keys:     [][]byte{inst.RootKey[:]},
	})

	encData := BuildEncoding(tb, 16, paged(encEntries, encodingEntriesPerPage)...)
	encBlob := RawBLTE(tb, encData, opts.ChunkSize)
	encCKey := md5.Sum(encData)         //nolint:gosec // format hash
	inst.EncodingKey = md5.Sum(encBlob) //nolint:gosec // format hash
	store(0, inst.EncodingKey, encBlob, true)

	for n, a := range archives {
		mustWrite(tb, filepath.Join(dataDir, fmt.Sprintf("data.%03d", n)), a.Bytes())
	}

	buckets := make([][]IndexRecord, 16)
	for _, r := range indexed {
		b := Bucket(r.Key)
		buckets[b] = append(buckets[b], r)
	}
	for b, recs := range buckets {
		if opts.StaleShards {
			mustWrite(tb, filepath.Join(dataDir, fmt.Sprintf("%02x0000000a.idx", b)), []byte{0xFF, 0xFF, 0xFF})
		}
		mustWrite(tb, filepath.Join(dataDir, fmt.Sprintf("%02x0000000b.idx", b)), BuildIndexShard(tb, recs))
	}

	config := strings.Join([]string{
		"# Build Configuration",
		"",
		"root = " + hex.EncodeToString(rootCKey[:]),
		"install = 0123456789abcdef0123456789abcdef",
		"encoding = " + hex.EncodeToString(encCKey[:]) + " " + hex.EncodeToString(inst.EncodingKey[:]),
		"encoding-size = " + fmt.Sprint(len(encData)) + " " + fmt.Sprint(len(encBlob)),
		"build-name = WOW-00001patch1.0.0_Retail",
		"",
	}, "\n")
	buildKey := md5.Sum([]byte(config)) //nolint:gosec // format hash
	inst.BuildKey = hex.EncodeToString(buildKey[:])
	inst.ConfigPath = filepath.Join(inst.DataDir, "config", inst.BuildKey[0:2], inst.BuildKey[2:4], inst.BuildKey)
	mustMkdir(tb, filepath.Dir(inst.ConfigPath))
	mustWrite(tb, inst.ConfigPath, []byte(config))

	buildInfo := "Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|CDN Key!HEX:16|Version!STRING:0|Product!STRING:0\n" +
		"eu|0|00000000000000000000000000000000|00000000000000000000000000000000|0.9.0.1|wow\n" +
		"us|1|" + inst.BuildKey + "|00000000000000000000000000000000|1.0.0.1|wow\n"
	mustWrite(tb, filepath.Join(root, ".build.info"), []byte(buildInfo))
	return inst
}

// File returns the fixture file with the given name.
func (i *Installation) File(tb testing.TB, name string) FixtureFile {
	tb.Helper()
	for _, f := range i.Files {
		if f.Name == name {
			return f
		}
	}
	tb.Fatalf("fixture has no file %q", name)
	return FixtureFile{}
}

func sortedByID(recs []RootRecord) []RootRecord {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b RootRecord) int {
		return cmp.Compare(a.FileDataID, b.FileDataID)
	})
	return out
}

// encodingEntriesPerPage keeps single-key 16-byte entries within one page.
const encodingEntriesPerPage = 100

func paged(entries []EncodingEntry, n int) [][]EncodingEntry {
	var pages [][]EncodingEntry
	for len(entries) > n {
		pages = append(pages, entries[:n])
		entries = entries[n:]
	}
	return append(pages, entries)
}

func mustMkdir(tb testing.TB, dir string) {
	tb.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWrite(tb testing.TB, path string, data []byte) {
	tb.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // test fixture
		tb.Fatalf("write %s: %v", path, err)
	}
}
