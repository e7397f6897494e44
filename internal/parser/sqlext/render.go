package sqlext

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/timeexpr"
)

// render prints an expression back as SQL for hints and group keys.
func render(e expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e expr) {
	switch x := e.(type) {
	case identExpr:
		b.WriteString(x.name())
	case numExpr:
		b.WriteString(x.text)
	case strExpr:
		b.WriteString(quote(x.val))
	case durExpr:
		b.WriteString(x.text)
	case intervalExpr:
		b.WriteString("INTERVAL ")
		b.WriteString(quote(timeexpr.FormatInterval(x.ms)))
	case keywordExpr:
		b.WriteString(x.word)
	case starExpr:
		if x.table != "" {
			b.WriteString(x.table)
			b.WriteByte('.')
		}
		b.WriteByte('*')
	case callExpr:
		b.WriteString(x.name)
		if x.params != nil {
			b.WriteByte('(')
			writeList(b, x.params)
			b.WriteByte(')')
		}
		b.WriteByte('(')
		if x.distinct {
			b.WriteString("DISTINCT ")
		}
		writeList(b, x.args)
		if x.toUnit != "" {
			b.WriteString(" TO ")
			b.WriteString(strings.ToUpper(x.toUnit))
		}
		b.WriteByte(')')
		if x.within != nil {
			b.WriteString(" WITHIN GROUP (ORDER BY ")
			writeExpr(b, x.within)
			b.WriteByte(')')
		}
		if x.over {
			b.WriteString(" OVER (...)")
		}
	case binExpr:
		writeExpr(b, x.l)
		b.WriteByte(' ')
		b.WriteString(x.op)
		b.WriteByte(' ')
		writeExpr(b, x.r)
	case unaryExpr:
		b.WriteString(x.op)
		if x.op == "NOT" {
			b.WriteByte(' ')
		}
		writeExpr(b, x.x)
	case inExpr:
		writeExpr(b, x.x)
		if x.not {
			b.WriteString(" NOT")
		}
		b.WriteString(" IN (")
		if x.sub != nil {
			b.WriteString("SELECT ...")
		} else {
			writeList(b, x.list)
		}
		b.WriteByte(')')
	case betweenExpr:
		writeExpr(b, x.x)
		if x.not {
			b.WriteString(" NOT")
		}
		b.WriteString(" BETWEEN ")
		writeExpr(b, x.lo)
		b.WriteString(" AND ")
		writeExpr(b, x.hi)
	case isNullExpr:
		writeExpr(b, x.x)
		if x.not {
			b.WriteString(" IS NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case castExpr:
		b.WriteString("CAST(")
		writeExpr(b, x.x)
		b.WriteString(" AS ")
		b.WriteString(strings.ToUpper(x.typ))
		b.WriteByte(')')
	case listExpr:
		b.WriteByte('(')
		writeList(b, x.items)
		b.WriteByte(')')
	case subqueryExpr:
		b.WriteString("(SELECT ...)")
	case rawExpr:
		b.WriteString(x.text)
	}
}

func writeList(b *strings.Builder, list []expr) {
	for i, e := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		writeExpr(b, e)
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// itoa is strconv.FormatInt for hint values.
func itoa(n int64) string { return strconv.FormatInt(n, 10) }
