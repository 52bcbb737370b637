// Package display prints packets at the requested level of detail.
package display

import (
	"fmt"
	"io"
	"strings"

	"nfstrace/internal/packet"
	"nfstrace/internal/parser"
)

// Verbosity bits. They can be combined.
const (
	// OneLine prints one line per packet.
	OneLine = 1
	// PerLayer prints one line per decoded layer.
	PerLayer = 2
	// Full prints every field of every layer.
	Full = 4
	// Hex appends a hex dump of the frame.
	Hex = 8
)

// Printer writes packets to Out.
type Printer struct {
	Out io.Writer
	// Verbose is a bitmask of OneLine, PerLayer, Full and Hex. Zero means
	// OneLine.
	Verbose int
	// Format, when set, replaces the verbosity output with a template of
	// {field} or {field:verb} placeholders, for example
	// "{index} {rpc.xid:%08x} {nfs.op}".
	Format string

	tmpl []segment
}

// Print writes one packet.
func (pr *Printer) Print(p *packet.Packet) error {
	if pr.Format != "" {
		if pr.tmpl == nil {
			pr.tmpl = parseFormat(pr.Format)
		}
		_, err := io.WriteString(pr.Out, render(pr.tmpl, p)+"\n")
		return err
	}

	v := pr.Verbose
	if v == 0 {
		v = OneLine
	}
	var sb strings.Builder
	if v&OneLine != 0 {
		sb.WriteString(p.String())
		sb.WriteByte('\n')
	}
	if v&PerLayer != 0 {
		sb.WriteString(p.Lines())
	}
	if v&Full != 0 {
		sb.WriteString(p.Detail())
	}
	if v&Hex != 0 && p.Frame != nil {
		sb.WriteString(parser.HexDump(p.Frame.Data))
	}
	_, err := io.WriteString(pr.Out, sb.String())
	return err
}

// Format renders a format template for one packet.
func Format(format string, p *packet.Packet) string {
	return render(parseFormat(format), p)
}

type segment struct {
	text  string
	field string
	verb  string
}

// parseFormat splits a template into literal text and placeholders. "{{"
// and "}}" stand for literal braces.
func parseFormat(format string) []segment {
	var segs []segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '{' && i+1 < len(format) && format[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(format) && format[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				lit.WriteString(format[i:])
				i = len(format)
				break
			}
			flush()
			name, verb, _ := strings.Cut(format[i+1:i+end], ":")
			segs = append(segs, segment{field: strings.TrimSpace(name), verb: verb})
			i += end
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs
}

func render(segs []segment, p *packet.Packet) string {
	var sb strings.Builder
	for _, s := range segs {
		if s.field == "" {
			sb.WriteString(s.text)
			continue
		}
		sb.WriteString(fieldString(p, s.field, s.verb))
	}
	return sb.String()
}

func fieldString(p *packet.Packet, name, verb string) string {
	var v any
	var ok bool
	switch name {
	case "time":
		// Formatted like the one line output rather than as seconds.
		v, ok = p.Timestamp(), p.Frame != nil
	case "summary":
		v, ok = p.String(), true
	default:
		v, ok = p.Field(name)
	}
	if !ok || v == nil {
		return ""
	}
	if verb != "" {
		if !strings.HasPrefix(verb, "%") {
			verb = "%" + verb
		}
		return fmt.Sprintf(verb, v)
	}
	return fmt.Sprint(v)
}
