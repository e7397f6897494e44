package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/registry"
)

// RunWithGolden runs a scenario, fails t on any unmet expectation and
// compares each golden translation against testdata/golden through goldie.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, reg *registry.Registry, sc *Scenario) *Result {
	t.Helper()

	res, err := Run(reg, sc, Options{})
	if err != nil {
		t.Fatalf("running scenario %s: %v", sc.Name, err)
	}
	for _, msg := range res.Errors {
		t.Errorf("%s: %s", sc.Name, msg)
	}
	AssertGolden(t, sc, res)
	return res
}

// AssertGolden compares the golden translations of an already-run
// scenario against testdata/golden.
func AssertGolden(t *testing.T, sc *Scenario, res *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, te := range sc.Expect.Translations {
		if !te.Golden {
			continue
		}
		target, err := queryir.ParseDialect(te.Target)
		if err != nil {
			t.Errorf("%s: %v", sc.Name, err)
			continue
		}
		out, ok := res.Outputs[target]
		if !ok {
			t.Errorf("%s: no %s output to compare", sc.Name, target)
			continue
		}
		g.Assert(t, goldenName(sc.Name, target), []byte(out))
	}
}
