package sqlext

// expr is a SQL expression node.
type expr interface {
	pos() int
}

type (
	identExpr struct {
		at    int
		parts []string
	}
	numExpr struct {
		at   int
		text string
	}
	strExpr struct {
		at  int
		val string
	}
	// durExpr is a bare duration literal ("5m", "10a").
	durExpr struct {
		at   int
		text string
		ms   int64
	}
	// intervalExpr is INTERVAL '1 hour', INTERVAL '1' HOUR or INTERVAL 1 HOUR.
	intervalExpr struct {
		at int
		ms int64
	}
	keywordExpr struct {
		at   int
		word string // NULL, TRUE, FALSE
	}
	starExpr struct {
		at    int
		table string
	}
	callExpr struct {
		at       int
		name     string // lower-cased
		args     []expr
		params   []expr // ClickHouse parametric: quantile(0.9)(x)
		distinct bool
		toUnit   string // FLOOR(x TO HOUR)
		within   expr   // WITHIN GROUP (ORDER BY x)
		over     bool
	}
	binExpr struct {
		at   int
		op   string // upper-case operator or keyword
		l, r expr
	}
	unaryExpr struct {
		at int
		op string // NOT, -, +
		x  expr
	}
	inExpr struct {
		at   int
		x    expr
		list []expr
		sub  *statement
		not  bool
	}
	betweenExpr struct {
		at        int
		x, lo, hi expr
		not       bool
	}
	isNullExpr struct {
		at  int
		x   expr
		not bool
	}
	castExpr struct {
		at  int
		x   expr
		typ string // lower-cased
	}
	listExpr struct {
		at    int
		items []expr
	}
	subqueryExpr struct {
		at   int
		stmt *statement
	}
	// rawExpr keeps text the parser does not model (CASE ... END).
	rawExpr struct {
		at   int
		text string
	}
)

func (e identExpr) pos() int    { return e.at }
func (e numExpr) pos() int      { return e.at }
func (e strExpr) pos() int      { return e.at }
func (e durExpr) pos() int      { return e.at }
func (e intervalExpr) pos() int { return e.at }
func (e keywordExpr) pos() int  { return e.at }
func (e starExpr) pos() int     { return e.at }
func (e callExpr) pos() int     { return e.at }
func (e binExpr) pos() int      { return e.at }
func (e unaryExpr) pos() int    { return e.at }
func (e inExpr) pos() int       { return e.at }
func (e betweenExpr) pos() int  { return e.at }
func (e isNullExpr) pos() int   { return e.at }
func (e castExpr) pos() int     { return e.at }
func (e listExpr) pos() int     { return e.at }
func (e subqueryExpr) pos() int { return e.at }
func (e rawExpr) pos() int      { return e.at }

// name joins the identifier parts with dots.
func (e identExpr) name() string {
	out := ""
	for i, p := range e.parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// column is the unqualified column name.
func (e identExpr) column() string { return e.parts[len(e.parts)-1] }

type selectItem struct {
	x     expr
	alias string
}

type orderItem struct {
	x          expr
	desc       bool
	nullsFirst *bool
}

type tableRef struct {
	at    int
	parts []string
	sub   *statement
	alias string
	join  string // "", "JOIN", "LEFT JOIN", "ASOF JOIN", ...
	on    expr
}

// statement is a parsed SELECT. Dialect clauses that need plan context
// register a lowering step in deferred.
type statement struct {
	ctes      []string
	distinct  bool
	items     []selectItem
	from      []tableRef
	where     expr
	prewhere  expr
	groupBy   []expr
	having    expr
	orderBy   []orderItem
	limit     *int64
	offset    *int64
	partition []expr
	hints     map[string]string
	deferred  []func(*lowering) error
}

func (st *statement) hint(key, value string) {
	if st.hints == nil {
		st.hints = make(map[string]string)
	}
	if prev, ok := st.hints[key]; ok && prev != value {
		value = prev + "; " + value
	}
	st.hints[key] = value
}
