// Package snapshot provides the artifact formats of a state snapshot backup
// and the verifier that checks chunks against the accumulator.
//
// A backup is a set of chunk files and one manifest:
//
//	chunks/<run>/<index>.chunk
//	[magic:8 "LBSCHUNK"]
//	[DataLen:4][Data:DataLen]   (protobuf wire encoded chunk)
//	[checksum:32 SHA-256 of all bytes above]
//
//	manifests/state_ver_<version>.<run>.manifest
//	canonical JSON, see Manifest
//
// Each chunk carries the accumulator frontier before its first entry and
// after its last one. Folding the chunk's leaves into the left frontier must
// yield the right frontier, and the right frontier of chunk i must equal the
// left frontier of chunk i+1. The root of the last right frontier is the
// state root hash recorded in the manifest.
package snapshot
