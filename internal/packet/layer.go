package packet

import (
	"errors"
	"fmt"

	"nfstrace/internal/models"
)

// Layer tags the closed set of layers a packet can carry.
type Layer int

const (
	LayerEthernet Layer = iota
	LayerIP
	LayerTCP
	LayerUDP
	LayerRPC
	LayerNFSv3
	LayerNFSv4
	LayerMOUNT
	LayerNLM
	LayerPORTMAP
	numLayers
)

var layerNames = [numLayers]string{
	LayerEthernet: "ethernet",
	LayerIP:       "ip",
	LayerTCP:      "tcp",
	LayerUDP:      "udp",
	LayerRPC:      "rpc",
	LayerNFSv3:    "nfs3",
	LayerNFSv4:    "nfs4",
	LayerMOUNT:    "mount",
	LayerNLM:      "nlm",
	LayerPORTMAP:  "portmap",
}

func (l Layer) String() string {
	if l < 0 || l >= numLayers {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// ParseLayer maps a layer name to its tag. "nfs" resolves to NFSv4 first
// and NFSv3 otherwise at lookup time, see Packet.Field.
func ParseLayer(name string) (Layer, bool) {
	for i, n := range layerNames {
		if n == name {
			return Layer(i), true
		}
	}
	return 0, false
}

// Value is one decoded layer.
type Value interface {
	// Summary is a one line description of the layer.
	Summary() string
	// Detail is the full field tree of the layer.
	Detail() models.LayerDetail
	// Field returns the value of a named field. Numbers are returned as
	// uint64 or int64, strings as string.
	Field(name string) (any, bool)
}

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("decode error")

// DecodeError reports a layer that could not be unpacked.
type DecodeError struct {
	Layer Layer
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Layer, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// NewDecodeError wraps err as a decode failure of layer l.
func NewDecodeError(l Layer, err error) *DecodeError {
	return &DecodeError{Layer: l, Err: err}
}
