package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrDeployment is returned when a contract deployment is rejected or times out.
	ErrDeployment = errors.New("contract deployment failed")

	// ErrRegistration is returned when a node registration transaction fails.
	ErrRegistration = errors.New("node registration failed")

	// ErrChainNotFound is returned when no registry entry exists for a chain.
	ErrChainNotFound = errors.New("chain not found")

	// ErrVerification is returned when returned data cannot be cryptographically confirmed.
	ErrVerification = errors.New("verification failed")

	// ErrTransport is returned for network-level failures. Operations failing
	// with it may be retried by the caller.
	ErrTransport = errors.New("transport failure")

	// ErrNoContract is returned by verified reads when no contract exists at the address.
	ErrNoContract = errors.New("no contract at address")

	// ErrTxReverted is returned when a mined transaction failed.
	ErrTxReverted = errors.New("transaction reverted")

	// ErrConfirmationTimeout is returned when a transaction is not mined in time.
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")

	// ErrInvalidNode is returned for malformed node descriptors.
	ErrInvalidNode = errors.New("invalid node descriptor")

	// ErrInvalidChainID is returned for malformed chain identifiers.
	ErrInvalidChainID = errors.New("invalid chain id")

	// ErrInvalidConfig is returned for malformed client configuration.
	ErrInvalidConfig = errors.New("invalid client config")
)

// DeploymentError reports a failed contract deployment.
type DeploymentError struct {
	Contract string
	Err      error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploying %s: %v", e.Contract, e.Err)
}

func (e *DeploymentError) Unwrap() []error {
	return []error{ErrDeployment, e.Err}
}

// RegistrationError reports a failed node registration. Registrations
// confirmed before the failure stay on chain.
type RegistrationError struct {
	URL   string
	Index int
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering node %d (url %q): %v", e.Index, e.URL, e.Err)
}

func (e *RegistrationError) Unwrap() []error {
	return []error{ErrRegistration, e.Err}
}
