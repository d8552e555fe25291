// Package validate checks form inputs against an embedded CUE schema before
// any record is built.
package validate

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/JhanGutierrez/ventry/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Validator checks inputs against the compiled schema.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so checks are
// serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Warehouse validates a warehouse input.
func (v *Validator) Warehouse(in model.WarehouseInput) error {
	return v.check("#Warehouse", "warehouse", in)
}

// Product validates a product input.
func (v *Validator) Product(in model.ProductInput) error {
	return v.check("#Product", "product", in)
}

// Movement validates a movement input.
func (v *Validator) Movement(in model.MovementInput) error {
	return v.check("#Movement", "movement", in)
}

func (v *Validator) check(def, name string, in any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	schema := v.schema.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("input schema has no definition %s", def)
	}

	value := schema.Unify(v.ctx.Encode(in))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return model.NewValidationError("validate "+name, model.CodeInvalidInput, describe(err))
	}
	return nil
}

// describe flattens a CUE error list into one "path: message" line per
// violation.
func describe(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}

	seen := make(map[string]bool)
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := strings.Join(e.Path(), "."); p != "" {
			msg = p + ": " + msg
		}
		if !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
