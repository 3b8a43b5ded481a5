// Package virtus decorates classes that include Virtus.model with an
// accessor and mutator declaration per attribute.
//
// For
//
//	class Shop
//	  include Virtus.model
//
//	  attribute :name, String
//	end
//
// it produces
//
//	class Shop
//	  sig { returns(T.nilable(::String)) }
//	  def name; end
//
//	  sig { params(value: T.nilable(::String)).returns(T.nilable(::String)) }
//	  def name=(value); end
//	end
package virtus

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
	"github.com/jward/rbigen/internal/typecat"
)

// Name is the registry name of the compiler.
const Name = "virtus"

// HookContextPath is the library file that defines the class-level
// `attribute` method on models.
const HookContextPath = "virtus/builder/hook_context.rb"

// Compiler is the Virtus attribute compiler.
type Compiler struct {
	space *objspace.Space
	log   *zap.Logger
}

// New builds the compiler for env. It matches compiler.Factory.
func New(env compiler.Env) compiler.Compiler {
	log := env.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{space: env.Space, log: log.With(zap.String("compiler", Name))}
}

// Name implements compiler.Compiler.
func (c *Compiler) Name() string { return Name }

// GatherCandidates returns every class whose `attribute` class method was
// defined by the Virtus model builder. Classes without the method are not
// candidates, even if they define an `attribute` of their own elsewhere.
func (c *Compiler) GatherCandidates() []*objspace.Module {
	if _, loaded := c.space.Lookup("Virtus"); !loaded {
		return nil
	}
	var out []*objspace.Module
	for _, class := range compiler.AllClasses(c.space) {
		origin, err := c.space.MethodOrigin(class, "attribute")
		if err != nil {
			if !errors.Is(err, objspace.ErrNoMethod) {
				c.log.Debug("attribute origin lookup failed", zap.Stringer("class", class), zap.Error(err))
			}
			continue
		}
		if strings.Contains(origin, HookContextPath) {
			out = append(out, class)
		}
	}
	return out
}

// Decorate emits the attribute accessors of target. A model without
// attributes gets no scope at all.
func (c *Compiler) Decorate(root *rbi.Tree, target *objspace.Module) error {
	attrs := c.space.AttributeSet(target)
	if len(attrs) == 0 {
		return nil
	}
	scope, err := compiler.CreatePath(root, target)
	if err != nil {
		return errors.Wrap(err, "virtus: decorate")
	}
	for _, attr := range attrs {
		generateMethods(scope, attr.Name, typecat.TypeFor(attr.Kind).String())
	}
	return nil
}

func generateMethods(scope *rbi.Scope, name, typ string) {
	compiler.CreateMethod(scope, name, nil, typ)
	compiler.CreateMethod(scope, name+"=", []rbi.Param{compiler.CreateParam("value", typ)}, typ)
}
