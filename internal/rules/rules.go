// Package rules loads extra detector rules from CUE files.
//
// A rules file names dialects and gives each one more regular expression
// signatures and literal keywords:
//
//	dialects: {
//		influxql: {
//			signatures: [#"\bINTO\s+"\w+"\."#]
//			keywords: ["SLIMIT"]
//		}
//	}
//
// The file is unified with an embedded schema, so unknown fields and
// empty strings are rejected with positions. Dialect names go through
// queryir.ParseDialect and accept the usual aliases.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/roach88/polyql/internal/detect"
	"github.com/roach88/polyql/internal/queryir"
)

//go:embed schema.cue
var schemaSource string

// CompileError is a problem in a rules file, with its position when CUE
// knows it.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and compiles the rules file at path.
func Load(path string) ([]detect.Extension, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read detector rules")
	}
	return Parse(src, path)
}

// Parse compiles rules source. filename is used in error positions.
func Parse(src []byte, filename string) ([]detect.Extension, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, errors.Wrap(err, "compile rules schema")
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	checked := schema.LookupPath(cue.ParsePath("#Rules")).Unify(v)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile converts an already validated rules value into detector
// extensions, in file order. All problems are reported together.
func Compile(v cue.Value) ([]detect.Extension, error) {
	dialects := v.LookupPath(cue.ParsePath("dialects"))
	if !dialects.Exists() {
		return nil, nil
	}
	iter, err := dialects.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var (
		exts []detect.Extension
		errs error
	)
	for iter.Next() {
		ext, err := compileDialect(iter.Label(), iter.Value())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		exts = append(exts, ext)
	}
	if errs != nil {
		return nil, errs
	}
	return exts, nil
}

func compileDialect(name string, v cue.Value) (detect.Extension, error) {
	d, err := queryir.ParseDialect(name)
	if err != nil {
		return detect.Extension{}, &CompileError{Field: "dialects", Message: err.Error(), Pos: v.Pos()}
	}
	ext := detect.Extension{Dialect: d}

	var errs error
	err = eachString(v, "signatures", func(s string, pos token.Pos) {
		re, err := regexp.Compile(s)
		if err != nil {
			errs = multierr.Append(errs, &CompileError{
				Field:   name + ".signatures",
				Message: fmt.Sprintf("invalid pattern %q: %v", s, err),
				Pos:     pos,
			})
			return
		}
		ext.Signatures = append(ext.Signatures, re)
	})
	errs = multierr.Append(errs, err)
	err = eachString(v, "keywords", func(s string, _ token.Pos) {
		ext.Keywords = append(ext.Keywords, s)
	})
	errs = multierr.Append(errs, err)
	return ext, errs
}

// eachString calls fn for every string in the list at field, if present.
func eachString(v cue.Value, field string, fn func(string, token.Pos)) error {
	list := v.LookupPath(cue.ParsePath(field))
	if !list.Exists() {
		return nil
	}
	iter, err := list.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return formatCUEError(err)
		}
		fn(s, iter.Value().Pos())
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
