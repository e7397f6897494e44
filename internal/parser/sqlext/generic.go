package sqlext

import (
	"errors"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// NewGeneric returns the generic SQL parser. Text the MySQL grammar
// accepts is converted from its AST; anything else goes through the
// shared parser.
func NewGeneric() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.SQL,
		timeColumns: []string{"time", "timestamp", "ts", "event_time", "created_at"},
		direct:      mysqlDirect,
	}}
}

// errNotConvertible sends a statement to the shared parser.
var errNotConvertible = errors.New("statement not convertible")

func mysqlDirect(h *hooks, text string) (plan *queryir.QueryPlan, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			plan, ok = nil, false
		}
	}()
	stmt, err := sqlparser.Parse(text)
	if err != nil {
		return nil, false
	}
	var st *statement
	switch s := stmt.(type) {
	case *sqlparser.Select:
		if fromDual(s, text) {
			return nil, false
		}
		st, err = convertSelect(s)
	case *sqlparser.Union:
		st, err = convertUnion(s)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	plan, err = lowerStatement(h, text, st)
	if err != nil {
		return nil, false
	}
	return plan, true
}

func convertUnion(u *sqlparser.Union) (*statement, error) {
	left, ok := u.Left.(*sqlparser.Select)
	if !ok {
		return nil, errNotConvertible
	}
	st, err := convertSelect(left)
	if err != nil {
		return nil, err
	}
	if right, ok := u.Right.(*sqlparser.Select); ok {
		rs, err := convertSelect(right)
		if err != nil {
			return nil, err
		}
		if len(rs.from) > 0 {
			st.hint("union", strings.Join(rs.from[0].parts, "."))
		}
	}
	return st, nil
}

// fromDual reports SELECT without FROM, which the MySQL grammar reads as
// SELECT ... FROM dual.
func fromDual(sel *sqlparser.Select, text string) bool {
	if len(sel.From) != 1 || strings.Contains(strings.ToLower(text), "dual") {
		return false
	}
	t, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return false
	}
	name, ok := t.Expr.(sqlparser.TableName)
	return ok && name.Name.String() == "dual"
}

func convertSelect(sel *sqlparser.Select) (*statement, error) {
	st := &statement{distinct: sel.Distinct != ""}
	for _, se := range sel.SelectExprs {
		switch x := se.(type) {
		case *sqlparser.StarExpr:
			st.items = append(st.items, selectItem{x: starExpr{table: x.TableName.Name.String()}})
		case *sqlparser.AliasedExpr:
			st.items = append(st.items, selectItem{x: convertExpr(x.Expr), alias: x.As.String()})
		default:
			return nil, errNotConvertible
		}
	}
	if err := convertTables(sel.From, "", st); err != nil {
		return nil, err
	}
	if sel.Where != nil {
		st.where = convertExpr(sel.Where.Expr)
	}
	for _, g := range sel.GroupBy {
		st.groupBy = append(st.groupBy, convertExpr(g))
	}
	if sel.Having != nil {
		st.having = convertExpr(sel.Having.Expr)
	}
	for _, o := range sel.OrderBy {
		st.orderBy = append(st.orderBy, orderItem{x: convertExpr(o.Expr), desc: o.Direction == sqlparser.DescScr})
	}
	if sel.Limit != nil {
		if sel.Limit.Rowcount != nil {
			n, err := intValue(sel.Limit.Rowcount)
			if err != nil {
				return nil, err
			}
			st.limit = &n
		}
		if sel.Limit.Offset != nil {
			n, err := intValue(sel.Limit.Offset)
			if err != nil {
				return nil, err
			}
			st.offset = &n
		}
	}
	return st, nil
}

func intValue(e sqlparser.Expr) (int64, error) {
	v, ok := e.(*sqlparser.SQLVal)
	if !ok || v.Type != sqlparser.IntVal {
		return 0, errNotConvertible
	}
	return strconv.ParseInt(string(v.Val), 10, 64)
}

func convertTables(exprs sqlparser.TableExprs, join string, st *statement) error {
	for i, te := range exprs {
		j := join
		if i > 0 {
			j = "CROSS JOIN"
		}
		if err := convertTable(te, j, nil, st); err != nil {
			return err
		}
	}
	return nil
}

func convertTable(te sqlparser.TableExpr, join string, on expr, st *statement) error {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		ref := tableRef{join: join, on: on, alias: t.As.String()}
		switch s := t.Expr.(type) {
		case sqlparser.TableName:
			if !s.Qualifier.IsEmpty() {
				ref.parts = append(ref.parts, s.Qualifier.String())
			}
			ref.parts = append(ref.parts, s.Name.String())
		case *sqlparser.Subquery:
			sel, ok := s.Select.(*sqlparser.Select)
			if !ok {
				return errNotConvertible
			}
			sub, err := convertSelect(sel)
			if err != nil {
				return err
			}
			ref.sub = sub
		default:
			return errNotConvertible
		}
		st.from = append(st.from, ref)
	case *sqlparser.ParenTableExpr:
		return convertTables(t.Exprs, join, st)
	case *sqlparser.JoinTableExpr:
		if err := convertTable(t.LeftExpr, join, nil, st); err != nil {
			return err
		}
		var cond expr
		if t.Condition.On != nil {
			cond = convertExpr(t.Condition.On)
		}
		return convertTable(t.RightExpr, strings.ToUpper(t.Join), cond, st)
	default:
		return errNotConvertible
	}
	return nil
}

// convertExpr maps a MySQL AST expression onto the shared expression
// nodes. Nodes with no counterpart are kept as raw text.
func convertExpr(e sqlparser.Expr) expr {
	switch x := e.(type) {
	case *sqlparser.AndExpr:
		return binExpr{op: "AND", l: convertExpr(x.Left), r: convertExpr(x.Right)}
	case *sqlparser.OrExpr:
		return binExpr{op: "OR", l: convertExpr(x.Left), r: convertExpr(x.Right)}
	case *sqlparser.NotExpr:
		return unaryExpr{op: "NOT", x: convertExpr(x.Expr)}
	case *sqlparser.ParenExpr:
		return convertExpr(x.Expr)
	case *sqlparser.ComparisonExpr:
		switch x.Operator {
		case sqlparser.InStr, sqlparser.NotInStr:
			in := inExpr{x: convertExpr(x.Left), not: x.Operator == sqlparser.NotInStr}
			switch r := x.Right.(type) {
			case sqlparser.ValTuple:
				for _, v := range r {
					in.list = append(in.list, convertExpr(v))
				}
			default:
				in.sub = &statement{}
			}
			return in
		case sqlparser.NullSafeEqualStr:
			return binExpr{op: "=", l: convertExpr(x.Left), r: convertExpr(x.Right)}
		}
		return binExpr{op: strings.ToUpper(x.Operator), l: convertExpr(x.Left), r: convertExpr(x.Right)}
	case *sqlparser.RangeCond:
		return betweenExpr{
			x:   convertExpr(x.Left),
			lo:  convertExpr(x.From),
			hi:  convertExpr(x.To),
			not: x.Operator == sqlparser.NotBetweenStr,
		}
	case *sqlparser.IsExpr:
		switch x.Operator {
		case sqlparser.IsNullStr:
			return isNullExpr{x: convertExpr(x.Expr)}
		case sqlparser.IsNotNullStr:
			return isNullExpr{x: convertExpr(x.Expr), not: true}
		}
	case *sqlparser.SQLVal:
		switch x.Type {
		case sqlparser.StrVal:
			return strExpr{val: string(x.Val)}
		case sqlparser.IntVal, sqlparser.FloatVal:
			return numExpr{text: string(x.Val)}
		}
	case *sqlparser.NullVal:
		return keywordExpr{word: "NULL"}
	case sqlparser.BoolVal:
		if x {
			return keywordExpr{word: "TRUE"}
		}
		return keywordExpr{word: "FALSE"}
	case *sqlparser.ColName:
		var parts []string
		if !x.Qualifier.Qualifier.IsEmpty() {
			parts = append(parts, x.Qualifier.Qualifier.String())
		}
		if !x.Qualifier.Name.IsEmpty() {
			parts = append(parts, x.Qualifier.Name.String())
		}
		return identExpr{parts: append(parts, x.Name.String())}
	case *sqlparser.BinaryExpr:
		return binExpr{op: x.Operator, l: convertExpr(x.Left), r: convertExpr(x.Right)}
	case *sqlparser.UnaryExpr:
		inner := convertExpr(x.Expr)
		if x.Operator == sqlparser.UMinusStr {
			if n, ok := inner.(numExpr); ok {
				return numExpr{text: "-" + n.text}
			}
		}
		return unaryExpr{op: x.Operator, x: inner}
	case *sqlparser.IntervalExpr:
		magnitude := ""
		switch v := convertExpr(x.Expr).(type) {
		case numExpr:
			magnitude = v.text
		case strExpr:
			magnitude = v.val
		}
		if ms, err := timeexpr.ParseDuration(magnitude + " " + strings.ToLower(x.Unit)); err == nil {
			return intervalExpr{ms: ms}
		}
	case *sqlparser.FuncExpr:
		c := callExpr{name: x.Name.Lowered(), distinct: x.Distinct}
		for _, a := range x.Exprs {
			switch arg := a.(type) {
			case *sqlparser.StarExpr:
				c.args = append(c.args, starExpr{})
			case *sqlparser.AliasedExpr:
				c.args = append(c.args, convertExpr(arg.Expr))
			}
		}
		return c
	case *sqlparser.ConvertExpr:
		if x.Type != nil {
			return castExpr{x: convertExpr(x.Expr), typ: strings.ToLower(x.Type.Type)}
		}
	case sqlparser.ValTuple:
		list := listExpr{}
		for _, v := range x {
			list.items = append(list.items, convertExpr(v))
		}
		return list
	case *sqlparser.Subquery:
		return subqueryExpr{stmt: &statement{}}
	}
	return rawExpr{text: sqlparser.String(e)}
}
