// Package detect guesses the dialect of a query text.
//
// Every dialect carries a set of structural signatures (regular
// expressions worth SignaturePoints each) and literal keywords (matched
// case-insensitively, worth KeywordPoints each). The dialect with the
// strictly highest score wins; ties go to the dialect earlier in
// queryir.AllDialects. When no dialect reaches MinScore a few shape
// heuristics decide: JSON documents are Druid native or OpenTSDB, text
// starting with SELECT or SHOW is SQL, a bare metric selector is PromQL,
// and anything else is SQL.
//
// Detection never fails. Extra rules can be layered on with WithRules.
package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/valyala/fastjson"
	"golang.org/x/text/cases"

	"github.com/roach88/polyql/internal/queryir"
)

const (
	SignaturePoints = 10
	KeywordPoints   = 5
	// MinScore is the lowest score that counts as a detection.
	MinScore = KeywordPoints
)

// Extension adds signatures and keywords to a dialect's rule set. A dialect
// unknown to the detector is appended after the built-in ones.
type Extension struct {
	Dialect    queryir.Dialect
	Signatures []*regexp.Regexp
	Keywords   []string
}

// Score is one dialect's detection result.
type Score struct {
	Dialect    queryir.Dialect
	Points     int
	Signatures []string
	Keywords   []string
}

type dialectRules struct {
	dialect    queryir.Dialect
	signatures []*regexp.Regexp
	keywords   []string
}

// Detector scores query texts against per-dialect rules. It is safe for
// concurrent use once built.
type Detector struct {
	rules []dialectRules
}

// Option configures a Detector.
type Option func(*Detector)

// WithRules merges extensions into the rule table.
func WithRules(exts ...Extension) Option {
	return func(d *Detector) {
		for _, ext := range exts {
			d.extend(ext)
		}
	}
}

// New builds a detector with the built-in rules plus any extensions.
func New(opts ...Option) *Detector {
	d := &Detector{}
	fold := cases.Fold()
	for _, dialect := range queryir.AllDialects() {
		r := dialectRules{dialect: dialect}
		b := builtin[dialect]
		for _, sig := range b.signatures {
			r.signatures = append(r.signatures, regexp.MustCompile(sig))
		}
		for _, kw := range b.keywords {
			r.keywords = append(r.keywords, fold.String(kw))
		}
		d.rules = append(d.rules, r)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) extend(ext Extension) {
	fold := cases.Fold()
	idx := -1
	for i := range d.rules {
		if d.rules[i].dialect == ext.Dialect {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.rules = append(d.rules, dialectRules{dialect: ext.Dialect})
		idx = len(d.rules) - 1
	}
	for _, sig := range ext.Signatures {
		if sig != nil {
			d.rules[idx].signatures = append(d.rules[idx].signatures, sig)
		}
	}
	for _, kw := range ext.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			d.rules[idx].keywords = append(d.rules[idx].keywords, fold.String(kw))
		}
	}
}

// Scores returns the score of every dialect, in priority order.
func (d *Detector) Scores(text string) []Score {
	// A Caser carries state; one per call keeps Scores goroutine-safe.
	folded := cases.Fold().String(text)
	out := make([]Score, 0, len(d.rules))
	for _, r := range d.rules {
		s := Score{Dialect: r.dialect}
		for _, sig := range r.signatures {
			if sig.MatchString(text) {
				s.Points += SignaturePoints
				s.Signatures = append(s.Signatures, sig.String())
			}
		}
		for _, kw := range r.keywords {
			if strings.Contains(folded, kw) {
				s.Points += KeywordPoints
				s.Keywords = append(s.Keywords, kw)
			}
		}
		out = append(out, s)
	}
	return out
}

// Detect returns the most likely dialect of text.
func (d *Detector) Detect(text string) queryir.Dialect {
	dialect, _ := d.DetectWithConfidence(text)
	return dialect
}

// DetectWithConfidence returns the most likely dialect and the winner's
// share of all points scored, in [0, 1]. Confidence is 0 when the result
// comes from the fallback heuristics.
func (d *Detector) DetectWithConfidence(text string) (queryir.Dialect, float64) {
	scores := d.Scores(text)
	best, total := -1, 0
	for i, s := range scores {
		total += s.Points
		if best < 0 || s.Points > scores[best].Points {
			best = i
		}
	}
	if best >= 0 && scores[best].Points >= MinScore {
		return scores[best].Dialect, float64(scores[best].Points) / float64(total)
	}
	return fallback(text), 0
}

// Explain renders the non-zero scores of text, highest first.
func (d *Detector) Explain(text string) string {
	var b strings.Builder
	scores := d.Scores(text)
	for points := maxPoints(scores); points > 0; points-- {
		for _, s := range scores {
			if s.Points != points {
				continue
			}
			fmt.Fprintf(&b, "%-12s %3d  signatures=%d keywords=%v\n",
				s.Dialect, s.Points, len(s.Signatures), s.Keywords)
		}
	}
	return b.String()
}

func maxPoints(scores []Score) int {
	m := 0
	for _, s := range scores {
		if s.Points > m {
			m = s.Points
		}
	}
	return m
}

// fallback classifies text that no rule set recognized.
func fallback(text string) queryir.Dialect {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return jsonDialect(t)
	}
	upper := strings.ToUpper(t)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "SHOW") {
		return queryir.SQL
	}
	if bareSelector.MatchString(t) {
		return queryir.PromQL
	}
	return queryir.SQL
}

// jsonDialect tells the two JSON request dialects apart.
func jsonDialect(t string) queryir.Dialect {
	if fastjson.Validate(t) != nil {
		if strings.Contains(t, `"queryType"`) {
			return queryir.DruidNative
		}
		return queryir.OpenTSDB
	}
	var p fastjson.Parser
	v, err := p.Parse(t)
	if err != nil {
		return queryir.OpenTSDB
	}
	if v.Type() == fastjson.TypeArray {
		items := v.GetArray()
		if len(items) == 0 {
			return queryir.OpenTSDB
		}
		v = items[0]
	}
	if v.Exists("queryType") {
		return queryir.DruidNative
	}
	return queryir.OpenTSDB
}

var defaultDetector = New()

// Detect uses the built-in rules.
func Detect(text string) queryir.Dialect {
	return defaultDetector.Detect(text)
}

// DetectWithConfidence uses the built-in rules.
func DetectWithConfidence(text string) (queryir.Dialect, float64) {
	return defaultDetector.DetectWithConfidence(text)
}
