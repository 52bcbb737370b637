package models

// PacketInfo represents a decoded packet with all display data.
type PacketInfo struct {
	Number     int           `json:"number"`
	Source     string        `json:"source"`
	Timestamp  string        `json:"timestamp"`
	SrcAddr    string        `json:"srcAddr"`
	DstAddr    string        `json:"dstAddr"`
	Protocol   string        `json:"protocol"`
	Length     int           `json:"length"`
	Info       string        `json:"info"`
	Layers     []LayerDetail `json:"layers"`
	HexDump    string        `json:"hexDump,omitempty"`
	Xid        uint32        `json:"xid,omitempty"`
	CallIndex  int           `json:"callIndex,omitempty"`
	ReplyIndex int           `json:"replyIndex,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// LayerDetail represents one protocol layer in the packet.
type LayerDetail struct {
	Name   string       `json:"name"`
	Fields []LayerField `json:"fields"`
}

// LayerField represents a single field within a protocol layer.
type LayerField struct {
	Name     string       `json:"name"`
	Value    string       `json:"value"`
	Children []LayerField `json:"children,omitempty"`
}

// Field is a shorthand for building a leaf LayerField.
func Field(name, value string) LayerField {
	return LayerField{Name: name, Value: value}
}
