package ip4rt

import "errors"

// ValidationFlags controls optional, stricter checks performed by ValidateSize/
// ValidateExceptCRC methods across the wire-format packages (ethernet, arp, ipv4).
type ValidationFlags uint8

const (
	// ValidateEvilBit makes IPv4 validation reject packets with the evil bit set (RFC 3514).
	ValidateEvilBit ValidationFlags = 1 << iota
)

// Validator accumulates errors found while validating one or more wire frames.
// The zero value rejects on the first error found; call AllowMultipleErrors(true)
// to accumulate every error instead (joined on Err).
type Validator struct {
	flags          ValidationFlags
	allowMultiErrs bool
	accum          []error
}

// Flags returns the validation flags configured on v.
func (v *Validator) Flags() ValidationFlags { return v.flags }

// SetFlags sets the validation flags used by subsequent ValidateSize/ValidateExceptCRC calls.
func (v *Validator) SetFlags(flags ValidationFlags) { v.flags = flags }

// AllowMultipleErrors configures whether the validator keeps accumulating
// errors after the first one is found.
func (v *Validator) AllowMultipleErrors(allow bool) { v.allowMultiErrs = allow }

// ResetErr clears all accumulated errors, readying v for reuse.
func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
}

// HasError reports whether any error has been accumulated since the last reset/pop.
func (v *Validator) HasError() bool {
	return len(v.accum) != 0
}

// Err returns the accumulated error, or nil if none was found.
func (v *Validator) Err() error {
	if len(v.accum) == 1 {
		return v.accum[0]
	} else if len(v.accum) == 0 {
		return nil
	}
	return errors.Join(v.accum...)
}

// ErrPop returns the accumulated error and resets the validator, ready for reuse.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

// AddError registers a validation failure. err must be non-nil.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	} else if len(v.accum) != 0 && !v.allowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}
