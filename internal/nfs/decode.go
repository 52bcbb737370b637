// Package nfs decodes the bodies of the RPC programs found next to NFS on
// the wire: NFSv3, NFSv4, MOUNT, NLMv4 and PORTMAP.
package nfs

import (
	"fmt"
	"hash/crc32"

	"nfstrace/internal/packet"
	"nfstrace/internal/rpc"
)

// Limits applied while decoding untrusted captures.
const (
	maxFH        = 128
	maxName      = 4096
	maxOps       = 512
	maxBitmap    = 8
	maxFlavors   = 32
	maxCookie    = 1024
	maxPortmaps  = 1024
	maxOwnerName = 1024
)

// Body is implemented by every program layer.
type Body interface {
	packet.Value
	// ProcName is the procedure name shown in the RPC summary.
	ProcName() string
}

// Decode unpacks the program body of an RPC message. For a reply, info must
// carry the program, version and procedure of its call. A nil Body with a
// nil error means the program is not one this package decodes.
func Decode(info *packet.RPCInfo, body []byte) (packet.Layer, Body, error) {
	switch info.Program {
	case rpc.ProgramNFS:
		switch info.Version {
		case 3:
			v, err := decodeNFSv3(info, body)
			return packet.LayerNFSv3, v, wrap(packet.LayerNFSv3, err)
		case 4:
			v, err := decodeNFSv4(info, body)
			return packet.LayerNFSv4, v, wrap(packet.LayerNFSv4, err)
		}
	case rpc.ProgramMount:
		if info.Version == 3 {
			v, err := decodeMount(info, body)
			return packet.LayerMOUNT, v, wrap(packet.LayerMOUNT, err)
		}
	case rpc.ProgramNLM:
		if info.Version == 4 {
			v, err := decodeNLM(info, body)
			return packet.LayerNLM, v, wrap(packet.LayerNLM, err)
		}
	case rpc.ProgramPortmap:
		if info.Version == 2 {
			v, err := decodePortmap(info, body)
			return packet.LayerPORTMAP, v, wrap(packet.LayerPORTMAP, err)
		}
	}
	return 0, nil, nil
}

func wrap(l packet.Layer, err error) error {
	if err == nil {
		return nil
	}
	return packet.NewDecodeError(l, err)
}

// FHHash returns the CRC32 of a file handle, the short form most tools
// print in place of the handle itself.
func FHHash(fh []byte) string {
	if len(fh) == 0 {
		return ""
	}
	return fmt.Sprintf("0x%08x", crc32.ChecksumIEEE(fh))
}

// stateid4 is shared by several NFSv4 operations.
type stateid4 struct {
	Seqid uint32
	Other [12]byte
}

func (s stateid4) String() string {
	return fmt.Sprintf("0x%04x:%x", s.Seqid, s.Other[:])
}
