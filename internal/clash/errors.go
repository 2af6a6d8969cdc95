package clash

import "errors"

var (
	// ErrNoEndpoint indicates no server endpoint base is configured.
	ErrNoEndpoint = errors.New("no server endpoint configured")
	// ErrUnknownType indicates an injection was attempted without a
	// determined clash type.
	ErrUnknownType = errors.New("clash type is not hydra or chimera")
)
