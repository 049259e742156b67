package storage

import "errors"

var (
	// ErrExperimentNotFound 实验不存在
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrUnsupportedExperimentKind is returned when the durable object for a
	// name is not a standard experiment. This layer supports exactly one
	// experiment kind.
	ErrUnsupportedExperimentKind = errors.New("unsupported experiment kind")

	// ErrNoGenerationStrategy is returned when no generation strategy is
	// attached to the named experiment. Callers that want optional semantics
	// check it with errors.Is; LoadExperimentAndGenerationStrategy converts
	// it to a nil strategy.
	ErrNoGenerationStrategy = errors.New("no generation strategy attached to experiment")
)
