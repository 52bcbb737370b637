// Package filter evaluates match expressions such as
//
//	rpc.xid == 0x1f && nfs.op == "READ"
//
// against decoded packets. Field names are resolved with packet.Field.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"nfstrace/internal/packet"
)

// Filter is a compiled match expression.
type Filter struct {
	src  string
	expr *govaluate.EvaluableExpression
}

var dotted = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+`)

var hexNumber = regexp.MustCompile(`^0[xX][0-9a-fA-F]+`)

// Compile parses expr.
func Compile(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("filter: empty expression")
	}
	e, err := govaluate.NewEvaluableExpression(rewrite(expr))
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Filter{src: expr, expr: e}, nil
}

// rewrite escapes dotted names as [a.b] so they are looked up as a single
// parameter rather than as accessors, and turns hex literals into decimal.
// Quoted strings are copied unchanged.
func rewrite(expr string) string {
	var sb strings.Builder
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(expr) && expr[j] != c {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(expr) {
				j++
			}
			sb.WriteString(expr[i:j])
			i = j
		case c == '[':
			j := strings.IndexByte(expr[i:], ']')
			if j < 0 {
				sb.WriteString(expr[i:])
				return sb.String()
			}
			sb.WriteString(expr[i : i+j+1])
			i += j + 1
		case isIdentStart(c) && (i == 0 || !isIdentChar(expr[i-1])):
			if m := dotted.FindString(expr[i:]); m != "" {
				sb.WriteString("[" + m + "]")
				i += len(m)
				continue
			}
			j := i
			for j < len(expr) && isIdentChar(expr[j]) {
				j++
			}
			sb.WriteString(expr[i:j])
			i = j
		case c == '0' && (i == 0 || !isIdentChar(expr[i-1])):
			if m := hexNumber.FindString(expr[i:]); m != "" {
				v, err := strconv.ParseUint(m[2:], 16, 64)
				if err == nil {
					sb.WriteString(strconv.FormatUint(v, 10))
					i += len(m)
					continue
				}
			}
			sb.WriteByte(c)
			i++
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// String returns the expression as written.
func (f *Filter) String() string {
	return f.src
}

// Vars returns the field names the expression refers to.
func (f *Filter) Vars() []string {
	return f.expr.Vars()
}

// Eval evaluates the expression against p. A field the packet does not
// carry evaluates to nil.
func (f *Filter) Eval(p *packet.Packet) (bool, error) {
	res, err := f.expr.Eval(params{p})
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q: result %v is not a boolean", f.src, res)
	}
	return b, nil
}

// Match reports whether p satisfies the expression. Evaluation errors,
// such as ordering a missing field, count as no match.
func (f *Filter) Match(p *packet.Packet) bool {
	ok, err := f.Eval(p)
	return err == nil && ok
}

// params adapts a packet to govaluate.Parameters. govaluate does all
// arithmetic in float64, so integer fields are converted.
type params struct {
	p *packet.Packet
}

func (ps params) Get(name string) (interface{}, error) {
	v, ok := ps.p.Field(name)
	if !ok {
		return nil, nil
	}
	return normalize(v), nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return v
}
