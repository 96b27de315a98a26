package command

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/yndnr/ledgerbackup/internal/cli/output"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/infra/buildinfo"
	"github.com/yndnr/ledgerbackup/internal/storage/snapshot"
)

type latestView struct {
	Version  uint64 `json:"version"`
	RootHash string `json:"root_hash"`
}

func (v latestView) Table() *output.Table {
	return output.KeyValue(
		"version", strconv.FormatUint(v.Version, 10),
		"root_hash", v.RootHash)
}

type chunkView struct {
	Handle      string `json:"handle"`
	FirstIndex  uint64 `json:"first_index"`
	EntryCount  uint64 `json:"entry_count"`
	FirstKey    string `json:"first_key"`
	LastKey     string `json:"last_key"`
	ProofDigest string `json:"proof_digest"`
}

type manifestView struct {
	Handle       string      `json:"handle"`
	Version      uint64      `json:"version"`
	RootHash     string      `json:"root_hash"`
	ItemCount    uint64      `json:"item_count"`
	MaxChunkSize uint64      `json:"max_chunk_size"`
	NumChunks    int         `json:"num_chunks"`
	Chunks       []chunkView `json:"chunks,omitempty"`
	Duration     string      `json:"duration,omitempty"`
}

func newManifestView(handle string, m *snapshot.Manifest, withChunks bool) manifestView {
	v := manifestView{
		Handle:       handle,
		Version:      m.Version,
		RootHash:     m.RootHash.String(),
		ItemCount:    m.ItemCount,
		MaxChunkSize: m.MaxChunkSize,
		NumChunks:    len(m.Chunks),
	}
	if withChunks {
		for _, c := range m.Chunks {
			v.Chunks = append(v.Chunks, chunkView{
				Handle:      c.Handle,
				FirstIndex:  c.FirstIndex,
				EntryCount:  c.EntryCount,
				FirstKey:    shortHex(c.FirstKey),
				LastKey:     shortHex(c.LastKey),
				ProofDigest: c.ProofDigest.String(),
			})
		}
	}
	return v
}

func (v manifestView) Table() *output.Table {
	t := output.KeyValue(
		"manifest", v.Handle,
		"version", strconv.FormatUint(v.Version, 10),
		"root_hash", v.RootHash,
		"items", strconv.FormatUint(v.ItemCount, 10),
		"max_chunk_size", strconv.FormatUint(v.MaxChunkSize, 10),
		"chunks", strconv.Itoa(v.NumChunks))
	if v.Duration != "" {
		t.AddRow("duration", v.Duration)
	}
	if len(v.Chunks) == 0 {
		return t
	}
	t.AddRow("", "")
	t.AddRow("CHUNK", "ENTRIES", "FIRST_INDEX", "FIRST_KEY", "LAST_KEY", "HANDLE")
	for i, c := range v.Chunks {
		t.AddRow(strconv.Itoa(i),
			strconv.FormatUint(c.EntryCount, 10),
			strconv.FormatUint(c.FirstIndex, 10),
			c.FirstKey, c.LastKey, c.Handle)
	}
	return t
}

type manifestListView struct {
	Manifests []manifestView `json:"manifests"`
}

func (v manifestListView) Table() *output.Table {
	t := output.NewTable("VERSION", "ITEMS", "CHUNKS", "ROOT_HASH", "MANIFEST")
	for _, m := range v.Manifests {
		t.AddRow(strconv.FormatUint(m.Version, 10),
			strconv.FormatUint(m.ItemCount, 10),
			strconv.Itoa(m.NumChunks),
			shortHash(m.RootHash),
			m.Handle)
	}
	return t
}

type restoreView struct {
	Manifest      string `json:"manifest"`
	TargetVersion string `json:"target_version"`
	ItemCount     uint64 `json:"item_count"`
	RootHash      string `json:"root_hash"`
	Duration      string `json:"duration"`
}

func newRestoreView(handle string, target domain.Version, m *snapshot.Manifest, d time.Duration) restoreView {
	return restoreView{
		Manifest:      handle,
		TargetVersion: domain.FormatVersion(target),
		ItemCount:     m.ItemCount,
		RootHash:      m.RootHash.String(),
		Duration:      d.Round(time.Millisecond).String(),
	}
}

func (v restoreView) Table() *output.Table {
	return output.KeyValue(
		"manifest", v.Manifest,
		"target_version", v.TargetVersion,
		"items", strconv.FormatUint(v.ItemCount, 10),
		"root_hash", v.RootHash,
		"duration", v.Duration)
}

type versionView struct {
	buildinfo.Info
}

func (v versionView) Table() *output.Table {
	return output.KeyValue(
		"version", v.Version,
		"commit", v.Commit,
		"build_time", v.BuildTime,
		"go_version", v.GoVersion,
		"platform", v.Platform)
}

// shortHex renders a key as hex, truncated for table output.
func shortHex(b []byte) string {
	const max = 16
	if len(b) > max {
		return hex.EncodeToString(b[:max]) + "..."
	}
	return hex.EncodeToString(b)
}

func shortHash(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
