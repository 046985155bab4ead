package engine

import (
	"token_swap/internal/domain"
)

// The validators below are the shared precondition layer. They never mutate
// and never touch storage, so every rule can be tested on plain values.

// ValidateIdentity rejects empty caller tokens.
func ValidateIdentity(id domain.Identity) error {
	if id.IsZero() {
		return domain.ErrInvalidIdentity
	}
	return nil
}

// ValidateAssets requires two distinct, non-empty asset ids.
func ValidateAssets(source, destination domain.AssetID) error {
	if source == "" || destination == "" || source == destination {
		return domain.ErrInvalidAsset
	}
	return nil
}

// ValidateRatio requires both terms to be positive.
func ValidateRatio(numerator, denominator uint64) error {
	if numerator == 0 || denominator == 0 {
		return domain.ErrInvalidRatio
	}
	return nil
}

// ValidateAmount requires a positive amount.
func ValidateAmount(amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// ValidateInitialize checks an initialize request against the current state
// (nil when the deployment has never been initialized).
func ValidateInitialize(current *domain.SettlementState, authority domain.Identity, source, destination domain.AssetID, numerator, denominator uint64) error {
	if current != nil {
		return domain.ErrAlreadyInitialized
	}
	if err := ValidateIdentity(authority); err != nil {
		return err
	}
	if err := ValidateAssets(source, destination); err != nil {
		return err
	}
	return ValidateRatio(numerator, denominator)
}

// ValidateAuthority gates authority-only operations.
func ValidateAuthority(current *domain.SettlementState, caller domain.Identity) error {
	if current == nil {
		return domain.ErrNotInitialized
	}
	if caller.IsZero() || caller != current.Authority {
		return domain.ErrUnauthorized
	}
	return nil
}

// ValidateExchange checks the amount first, then initialization. Nothing else
// about the state is read before the amount is known to be positive.
func ValidateExchange(current *domain.SettlementState, requester domain.Identity, amount uint64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if current == nil {
		return domain.ErrNotInitialized
	}
	return ValidateIdentity(requester)
}

// QuoteExchange computes the destination amount for a validated exchange and
// applies the output rules: no zero output, no debit beyond the reserve, and
// no counter overflow.
func QuoteExchange(current *domain.SettlementState, balances domain.PoolBalances, amount uint64) (uint64, error) {
	out, err := current.Ratio.Apply(amount)
	if err != nil {
		return 0, err
	}
	if out == 0 {
		return 0, domain.ErrZeroOutput
	}
	if balances.DestinationHeld < out {
		return 0, domain.ErrInsufficientReserve
	}
	if amount > ^uint64(0)-current.TotalExchanged || amount > ^uint64(0)-balances.SourceHeld {
		return 0, domain.ErrOverflow
	}
	return out, nil
}
