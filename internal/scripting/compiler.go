package scripting

import (
	"context"
	"path"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
)

// Compiler is a compiler backed by one script.
type Compiler struct {
	name   string
	source string
	rt     *Runtime
	space  *objspace.Space
	log    *zap.Logger
}

// Name implements compiler.Compiler.
func (c *Compiler) Name() string { return c.name }

// GatherCandidates runs the script in gather mode. A failing script
// selects nothing.
func (c *Compiler) GatherCandidates() []*objspace.Module {
	s := &session{
		space: c.space,
		log:   c.log,
		mode:  modeGather,
		seen:  make(map[objspace.Handle]bool),
	}
	if err := c.run(context.Background(), s); err != nil {
		c.log.Warn("gather failed", zap.Error(err))
		return nil
	}
	objspace.SortByName(s.candidates)
	return s.candidates
}

// Decorate runs the script in decorate mode for target.
func (c *Compiler) Decorate(root *rbi.Tree, target *objspace.Module) error {
	s := &session{
		space:  c.space,
		log:    c.log,
		mode:   modeDecorate,
		root:   root,
		target: target,
	}
	return c.run(context.Background(), s)
}

func (c *Compiler) run(ctx context.Context, s *session) error {
	return c.rt.RunSource(ctx, c.source, c.name, s.globals())
}

// Register adds a compiler to reg for every script under compilers/. The
// script sources are read once, here.
func (r *Runtime) Register(reg *compiler.Registry) error {
	return r.register(reg.Register)
}

// RegisterOptIn is Register for scripts that only run when a filter names
// them.
func (r *Runtime) RegisterOptIn(reg *compiler.Registry) error {
	return r.register(reg.RegisterOptIn)
}

func (r *Runtime) register(add func(string, compiler.Factory) error) error {
	for _, name := range r.CompilerNames() {
		src, err := r.LoadScript(path.Join(CompilersDir, name+".risor"))
		if err != nil {
			return err
		}
		name := name
		err = add(name, func(env compiler.Env) compiler.Compiler {
			log := env.Logger
			if log == nil {
				log = r.log
			}
			return &Compiler{
				name:   name,
				source: src,
				rt:     r,
				space:  env.Space,
				log:    log.With(zap.String("compiler", name)),
			}
		})
		if err != nil {
			return errors.Wrapf(err, "register script %s", name)
		}
	}
	return nil
}
