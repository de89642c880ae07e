package interfaces

import "time"

// RegistryObserver receives the outcome of registry manager operations.
type RegistryObserver interface {
	ObserveDeployment(contract string, err error)
	ObserveRegistration(chain ChainID, err error)
}

// ResolverObserver receives the outcome of chain resolutions.
type ResolverObserver interface {
	ObserveResolve(chain ChainID, duration time.Duration, err error)
}

// NoopObserver discards all observations.
type NoopObserver struct{}

func (NoopObserver) ObserveDeployment(string, error)              {}
func (NoopObserver) ObserveRegistration(ChainID, error)           {}
func (NoopObserver) ObserveResolve(ChainID, time.Duration, error) {}
