package flux

import (
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/timeexpr"
)

// render prints e back as Flux source. Call arguments and record fields
// come out sorted by name; everything else keeps its shape.
func render(e expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e expr) {
	switch v := e.(type) {
	case strLit:
		b.WriteString(strconv.Quote(v.val))
	case numLit:
		b.WriteString(strconv.FormatFloat(v.val, 'f', -1, 64))
	case durLit:
		b.WriteString(timeexpr.FormatShort(v.ms, "ms"))
	case regexLit:
		b.WriteString("/" + strings.ReplaceAll(v.pattern, "/", `\/`) + "/")
	case timeLit:
		b.WriteString(v.text)
	case ident:
		b.WriteString(v.name)
	case member:
		b.WriteString(v.object + "." + v.field)
	case array:
		b.WriteByte('[')
		for i, x := range v.elems {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, x)
		}
		b.WriteByte(']')
	case record:
		b.WriteByte('{')
		if v.base != "" {
			b.WriteString(v.base + " with ")
		}
		writeFields(b, v.fields)
		b.WriteByte('}')
	case callExpr:
		b.WriteString(v.name + "(")
		writeFields(b, v.args)
		b.WriteByte(')')
	case fnLit:
		b.WriteString("(" + strings.Join(v.params, ", ") + ") => ")
		writeExpr(b, v.body)
	case binary:
		writeOperand(b, v.l)
		b.WriteString(" " + v.op + " ")
		writeOperand(b, v.r)
	case unary:
		if v.op == "not" {
			b.WriteString("not ")
		} else {
			b.WriteString(v.op)
		}
		writeOperand(b, v.x)
	}
}

// writeOperand parenthesizes nested operators so precedence survives.
func writeOperand(b *strings.Builder, e expr) {
	if _, ok := e.(binary); ok {
		b.WriteByte('(')
		writeExpr(b, e)
		b.WriteByte(')')
		return
	}
	writeExpr(b, e)
}

func writeFields(b *strings.Builder, fields map[string]expr) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k + ": ")
		writeExpr(b, fields[k])
	}
}
