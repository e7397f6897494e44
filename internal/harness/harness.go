package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/polyql/internal/detect"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/registry"
)

// Options tunes a run.
type Options struct {
	// GoldenDir holds golden files. When empty, golden checks are skipped.
	GoldenDir string

	// Update rewrites golden files instead of comparing against them.
	Update bool
}

// Run executes a scenario against reg and returns the result.
//
// Failed expectations are reported in the result; the error return is
// reserved for problems running the scenario itself, such as an unreadable
// golden directory.
func Run(reg *registry.Registry, sc *Scenario, opts Options) (*Result, error) {
	if reg == nil {
		return nil, errors.New("harness: nil registry")
	}
	if sc == nil {
		return nil, errors.New("harness: nil scenario")
	}
	res := NewResult(sc.Name)

	detected, conf := reg.Detector().DetectWithConfidence(sc.Query)
	res.Confidence = conf
	if d := sc.Expect.Detection; d != nil {
		checkDetection(res, d, detected, conf, reg.Detector().Scores(sc.Query))
	}

	dialect := detected
	if sc.Dialect != "" {
		d, err := queryir.ParseDialect(sc.Dialect)
		if err != nil {
			res.AddError("dialect: %v", err)
			return res, nil
		}
		dialect = d
	}
	res.Dialect = dialect

	plan, err := reg.Parse(dialect, sc.Query)
	if sc.Expect.Error != "" {
		switch {
		case err == nil:
			res.AddError("expected parse error containing %q, but parsing as %s succeeded", sc.Expect.Error, dialect)
		case !strings.Contains(err.Error(), sc.Expect.Error):
			res.AddError("expected parse error containing %q, got %q", sc.Expect.Error, err.Error())
		}
		return res, nil
	}
	if err != nil {
		res.AddError("parse as %s: %v", dialect, err)
		return res, nil
	}

	res.Plan = queryir.Describe(plan)
	vr := queryir.Validate(plan)
	res.Warnings = vr.Warnings
	if want := sc.Expect.Valid; want != nil && *want != vr.Valid() {
		res.AddError("expected valid=%t, got %t: %v", *want, vr.Valid(), vr.Err)
	}
	if len(sc.Expect.Plan) > 0 {
		if ok, why := matchSubset(res.Plan, sc.Expect.Plan, "plan"); !ok {
			res.AddError("%s", why)
		}
	}

	for _, te := range sc.Expect.Translations {
		if err := checkTranslation(reg, plan, sc.Name, te, res, opts); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RunAll runs each scenario in order, stopping at the first run error.
func RunAll(reg *registry.Registry, scenarios []*Scenario, opts Options) ([]*Result, error) {
	out := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		res, err := Run(reg, sc, opts)
		if err != nil {
			return out, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func checkDetection(res *Result, want *DetectionExpect, got queryir.Dialect, conf float64, scores []detect.Score) {
	d, err := queryir.ParseDialect(want.Dialect)
	if err != nil {
		res.AddError("detection.dialect: %v", err)
		return
	}
	if got != d {
		res.AddError("detected %s, expected %s", got, d)
	}
	if conf < want.MinConfidence {
		res.AddError("confidence %.3f below minimum %.3f", conf, want.MinConfidence)
	}
	if want.MinSignatures == 0 && want.MinKeywords == 0 {
		return
	}
	var score detect.Score
	for _, s := range scores {
		if s.Dialect == d {
			score = s
			break
		}
	}
	if len(score.Signatures) < want.MinSignatures {
		res.AddError("%s matched %d signatures, expected at least %d", d, len(score.Signatures), want.MinSignatures)
	}
	if len(score.Keywords) < want.MinKeywords {
		res.AddError("%s matched %d keywords, expected at least %d", d, len(score.Keywords), want.MinKeywords)
	}
}

func checkTranslation(reg *registry.Registry, plan *queryir.QueryPlan, name string, want TranslationExpect, res *Result, opts Options) error {
	target, err := queryir.ParseDialect(want.Target)
	if err != nil {
		res.AddError("translations: %v", err)
		return nil
	}
	out, err := reg.Translate(plan, target)
	if want.Error != "" {
		switch {
		case err == nil:
			res.AddError("%s: expected translate error containing %q, got output %q", target, want.Error, out)
		case !strings.Contains(err.Error(), want.Error):
			res.AddError("%s: expected translate error containing %q, got %q", target, want.Error, err.Error())
		}
		return nil
	}
	if err != nil {
		res.AddError("%s: translate: %v", target, err)
		return nil
	}
	res.Outputs[target] = out

	for _, s := range want.Contains {
		if !strings.Contains(out, s) {
			res.AddError("%s: output does not contain %q:\n%s", target, s, out)
		}
	}
	if want.Reparse {
		if _, err := reg.Parse(target, out); err != nil {
			res.AddError("%s: output does not re-parse: %v\n%s", target, err, out)
		}
	}
	if want.Golden && opts.GoldenDir != "" {
		return checkGolden(opts, goldenName(name, target), out, res)
	}
	return nil
}

func goldenName(scenario string, target queryir.Dialect) string {
	return scenario + "_" + string(target)
}

func checkGolden(opts Options, name, out string, res *Result) error {
	path := filepath.Join(opts.GoldenDir, name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fmt.Errorf("creating golden directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing golden file: %w", err)
		}
		return nil
	}
	want, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		res.AddError("golden file %s does not exist; run with update to create it", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading golden file: %w", err)
	}
	if !bytes.Equal(want, []byte(out)) {
		res.AddError("%s: output differs from golden file %s\nwant: %s\ngot:  %s", name, path, want, out)
	}
	return nil
}
