// Package filetransfer implements the file transfer manager of spec.md
// §4.9: chunking, SHA-256 integrity verification, and the
// offer/accept/reject state machine layered on top of a data-channel
// manager.
//
// Grounded on the original implementation's app/file_transfer.rs: the
// FileMetadata wire format, DownloadState/UploadState bookkeeping, and
// the back-pressure-paced upload loop are carried over unchanged in
// meaning, expressed with goroutines and channels in place of a spawned
// OS thread and a polled event queue.
package filetransfer

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/xerrors"
)

const metadataFixedSize = 4 + 8 + 32 // name_len + size + sha256

// Metadata describes one file offered for transfer, per spec.md §4.9's
// wire format: name_len:u32 BE | name | size:u64 BE | sha256[32].
type Metadata struct {
	Name   string
	Size   uint64
	SHA256 [32]byte
}

// NewMetadata computes a Metadata descriptor for the given file
// contents.
func NewMetadata(name string, data []byte) Metadata {
	return Metadata{Name: name, Size: uint64(len(data)), SHA256: sha256.Sum256(data)}
}

// Marshal serializes Metadata to its wire format.
func (m Metadata) Marshal() []byte {
	buf := make([]byte, 0, metadataFixedSize+len(m.Name))
	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(m.Name)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, m.Name...)
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], m.Size)
	buf = append(buf, size[:]...)
	buf = append(buf, m.SHA256[:]...)
	return buf
}

// UnmarshalMetadata parses the wire format produced by Marshal.
func UnmarshalMetadata(buf []byte) (Metadata, error) {
	if len(buf) < 4 {
		return Metadata{}, xerrors.New("filetransfer: buffer too short for metadata")
	}
	nameLen := int(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) < 4+nameLen+8+32 {
		return Metadata{}, xerrors.New("filetransfer: buffer too short for name/size/hash")
	}
	name := string(buf[4 : 4+nameLen])
	sizeOffset := 4 + nameLen
	size := binary.BigEndian.Uint64(buf[sizeOffset : sizeOffset+8])
	var hash [32]byte
	copy(hash[:], buf[sizeOffset+8:sizeOffset+8+32])
	return Metadata{Name: name, Size: size, SHA256: hash}, nil
}

// VerifyIntegrity reports whether data's SHA-256 matches m.SHA256.
func (m Metadata) VerifyIntegrity(data []byte) bool {
	return sha256.Sum256(data) == m.SHA256
}
