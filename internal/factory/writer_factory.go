package factory

import (
	"fmt"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Env carries the run-wide values writers may need besides their own definition.
type Env struct {
	OutputPath  string
	RunID       string
	EarlyWindow int
	Logger      *zap.Logger
}

// WriterFactory creates a writer from its definition.
type WriterFactory func(def config.WriterDef, env Env) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create opens every enabled writer of the output configuration. If one fails,
// the writers opened so far are closed again.
func Create(cfg config.OutputConfig, env Env) ([]model.Writer, error) {
	var writers []model.Writer

	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		env.Logger.Info("Creating writer", zap.String("type", def.Type))

		factory, ok := registry[def.Type]
		if !ok {
			return nil, multierr.Append(fmt.Errorf("unknown writer type: '%s'", def.Type), CloseAll(writers))
		}

		w, err := factory(def, env)
		if err != nil {
			err = fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
			return nil, multierr.Append(err, CloseAll(writers))
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("no output writer enabled")
	}
	return writers, nil
}

// CloseAll closes every writer and combines their errors.
func CloseAll(writers []model.Writer) error {
	var err error
	for _, w := range writers {
		if cerr := w.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close %s writer: %w", w.Name(), cerr))
		}
	}
	return err
}
