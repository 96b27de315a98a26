package backupv1

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// BackupServiceName is the fully-qualified name of the BackupService service.
const BackupServiceName = "ledger.backup.v1.BackupService"

// Procedure paths of BackupService.
const (
	BackupServiceGetLatestStateRootProcedure    = "/ledger.backup.v1.BackupService/GetLatestStateRoot"
	BackupServiceGetStateItemCountProcedure     = "/ledger.backup.v1.BackupService/GetStateItemCount"
	BackupServiceGetStateSnapshotRangeProcedure = "/ledger.backup.v1.BackupService/GetStateSnapshotRange"
	BackupServiceGetStateRangeProofProcedure    = "/ledger.backup.v1.BackupService/GetStateRangeProof"
)

// CodecName is the name Connect negotiates for Codec.
const CodecName = "json"

// Codec marshals the messages of this package as JSON.
// It implements connect.Codec.
type Codec struct{}

// Name implements connect.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements connect.Codec.
func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal implements connect.Codec.
func (Codec) Unmarshal(data []byte, msg any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("backupv1: unmarshal %T: %w", msg, err)
	}
	return nil
}

// GetLatestStateRootRequest asks for the most recently committed version.
type GetLatestStateRootRequest struct{}

// GetLatestStateRootResponse carries the latest version and its root hash.
type GetLatestStateRootResponse struct {
	Version  uint64 `json:"version"`
	RootHash string `json:"root_hash"`
}

// GetStateItemCountRequest asks for the snapshot size at a version.
type GetStateItemCountRequest struct {
	Version uint64 `json:"version"`
}

// GetStateItemCountResponse carries the snapshot size.
type GetStateItemCountResponse struct {
	Count uint64 `json:"count"`
}

// GetStateSnapshotRangeRequest asks for entries [Start, End) of the
// snapshot at Version.
type GetStateSnapshotRangeRequest struct {
	Version uint64 `json:"version"`
	Start   uint64 `json:"start"`
	End     uint64 `json:"end"`
}

// StateSnapshotItem is one streamed snapshot entry. LeafHash is the
// accumulator leaf of (Key, Value), in hex.
type StateSnapshotItem struct {
	Index    uint64 `json:"index"`
	Key      []byte `json:"key"`
	Value    []byte `json:"value"`
	LeafHash string `json:"leaf_hash"`
}

// GetStateRangeProofRequest asks for the accumulator frontier after the
// first Index entries of the snapshot at Version.
type GetStateRangeProofRequest struct {
	Version uint64 `json:"version"`
	Index   uint64 `json:"index"`
}

// GetStateRangeProofResponse carries the frontier.
type GetStateRangeProofResponse struct {
	Frontier Frontier `json:"frontier"`
}

// Frontier is the wire form of accumulator.Frontier. Peaks are hex.
type Frontier struct {
	NumLeaves uint64   `json:"num_leaves"`
	Peaks     []string `json:"peaks"`
}

// FrontierFromAccumulator converts f to its wire form.
func FrontierFromAccumulator(f accumulator.Frontier) Frontier {
	peaks := make([]string, len(f.Peaks))
	for i, p := range f.Peaks {
		peaks[i] = p.String()
	}
	return Frontier{NumLeaves: f.NumLeaves, Peaks: peaks}
}

// ToAccumulator parses and validates the wire frontier.
func (f Frontier) ToAccumulator() (accumulator.Frontier, error) {
	out := accumulator.Frontier{
		NumLeaves: f.NumLeaves,
		Peaks:     make([]accumulator.HashValue, len(f.Peaks)),
	}
	for i, s := range f.Peaks {
		h, err := accumulator.ParseHashValue(s)
		if err != nil {
			return accumulator.Frontier{}, fmt.Errorf("peak %d: %w", i, err)
		}
		out.Peaks[i] = h
	}
	if err := out.Validate(); err != nil {
		return accumulator.Frontier{}, err
	}
	return out, nil
}
