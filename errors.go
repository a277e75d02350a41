package beacon

import "errors"

var (
	// ErrFeatureAlreadyRegistered is returned by Register when a feature of
	// the same name is already registered with the core.
	ErrFeatureAlreadyRegistered = errors.New("beacon: feature already registered")

	// ErrCoreTornDown is returned by Register after FlushAndTearDown.
	ErrCoreTornDown = errors.New("beacon: core torn down")

	// ErrMissingRootDir is returned by New when no storage root is configured.
	ErrMissingRootDir = errors.New("beacon: configuration requires RootDir")
)
