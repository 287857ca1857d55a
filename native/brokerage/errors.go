package brokerage

import (
	"errors"

	"brokerfund/native/intent"
)

var (
	errNilState         = errors.New("brokerage: state not configured")
	errNilDepositModule = errors.New("brokerage: deposit module not configured")
	errNilValidator     = errors.New("brokerage: intent validator not configured")

	// Authorization
	ErrNotAccountOwner = errors.New("brokerage: caller is not the account owner")
	ErrNotAuthorized   = errors.New("brokerage: caller lacks the required role")
	ErrNotTransferable = errors.New("brokerage: account is not transferable")

	// Lifecycle
	ErrAccountNotFound    = errors.New("brokerage: account not found")
	ErrAccountNotActive   = errors.New("brokerage: account not active")
	ErrAccountExpired     = errors.New("brokerage: account expired")
	ErrAccountNotPaused   = errors.New("brokerage: account not paused")
	ErrAccountClosed      = errors.New("brokerage: account closed")
	ErrSharesOutstanding  = errors.New("brokerage: account has shares outstanding")
	ErrInvalidOwner       = errors.New("brokerage: owner address required")
	ErrInvalidTTL         = errors.New("brokerage: ttl must be positive")
	ErrInvalidFeeSchedule = errors.New("brokerage: fee pair must total below 10000 bps")

	// Policy
	ErrAssetNotPermitted = errors.New("brokerage: asset not permitted for this direction")
	ErrInvalidDirection  = errors.New("brokerage: invalid policy direction")

	// Limit
	ErrInvalidMintLimit       = errors.New("brokerage: share mint limit must be positive")
	ErrMintLimitExceeded      = errors.New("brokerage: share mint limit exceeded")
	ErrBurnExceedsOutstanding = errors.New("brokerage: burn exceeds outstanding shares")

	// Economic
	ErrInvalidAmount           = errors.New("brokerage: amount must be positive")
	ErrAmountOverflow          = errors.New("brokerage: amount exceeds 256 bits")
	ErrSlippage                = errors.New("brokerage: output below minimum")
	ErrInsufficientForBribeTip = errors.New("brokerage: amount does not cover bribe and relayer tip")
	ErrInvalidFeeRate          = errors.New("brokerage: management fee rate must be below 10000 bps")
	ErrInvalidRecipient        = errors.New("brokerage: recipient address required")

	// Temporal
	ErrOrderExpired = errors.New("brokerage: order past deadline")
)

// ErrorClass groups engine failures so callers can decide how to react.
type ErrorClass string

const (
	ClassAuthorization ErrorClass = "authorization"
	ClassLifecycle     ErrorClass = "lifecycle"
	ClassPolicy        ErrorClass = "policy"
	ClassLimit         ErrorClass = "limit"
	ClassEconomic      ErrorClass = "economic"
	ClassSecurity      ErrorClass = "security"
	ClassTemporal      ErrorClass = "temporal"
	ClassInternal      ErrorClass = "internal"
)

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassAuthorization, []error{ErrNotAccountOwner, ErrNotAuthorized, ErrNotTransferable}},
	{ClassLifecycle, []error{ErrAccountNotFound, ErrAccountNotActive, ErrAccountExpired, ErrAccountNotPaused,
		ErrAccountClosed, ErrSharesOutstanding, ErrInvalidOwner, ErrInvalidTTL, ErrInvalidFeeSchedule}},
	{ClassPolicy, []error{ErrAssetNotPermitted, ErrInvalidDirection}},
	{ClassLimit, []error{ErrInvalidMintLimit, ErrMintLimitExceeded, ErrBurnExceedsOutstanding}},
	{ClassEconomic, []error{ErrInvalidAmount, ErrAmountOverflow, ErrSlippage, ErrInsufficientForBribeTip,
		ErrInvalidFeeRate, ErrInvalidRecipient}},
	{ClassSecurity, []error{intent.ErrChainIDMismatch, intent.ErrNonceMismatch, intent.ErrInvalidSignature}},
	{ClassTemporal, []error{ErrOrderExpired}},
}

// Classify maps an error returned by the engine onto its ErrorClass. Errors
// that do not originate from a validation check are reported as internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}
