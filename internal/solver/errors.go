package solver

import "errors"

var (
	ErrUnknownSolver   = errors.New("solver: unknown solver")
	ErrParameterFormat = errors.New("solver: invalid parameter")
	ErrSolverExists    = errors.New("solver: variant already registered")
	ErrSolveFailed     = errors.New("solver: solve failed")
)
