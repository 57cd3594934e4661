// Package envelope implements the signed-wrapper collaborator spec.md §1
// treats as external ("Identity/signing ... the core only verifies a
// guarantor chain is present"). It provides the two generic envelope
// types and the minimal verification the core actually performs: that
// both signatures are present and verifiable before a TaskCtx is
// admitted. Issuing envelopes (signing) is the identity service's job,
// not the kernel's — only verification lives here.
package envelope

import (
	"crypto/ed25519"
	"fmt"
)

// Signature is a detached ed25519 signature over the envelope's payload
// digest. No third-party signing library is used here: identity/signing
// is an external collaborator per spec.md §1, and nothing in the
// retrieved example pack grounds a particular signing library choice —
// see DESIGN.md.
type Signature struct {
	PublicKey ed25519.PublicKey
	Sig       []byte
}

func (s Signature) verify(digest []byte) bool {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(s.PublicKey, digest, s.Sig)
}

// GuaranteeSigned wraps a value with the submitter's own signature: "I
// guarantee this is the task I intend to submit."
type GuaranteeSigned[T any] struct {
	Value     T
	Digest    []byte
	Guarantee Signature
}

// GuarantorSigned wraps a value with a guarantor's signature: a
// third-party attestation (e.g. an admission authority) countersigning
// the submitter's guarantee.
type GuarantorSigned[T any] struct {
	Value     T
	Digest    []byte
	Guarantor Signature
}

// ErrUnverified is returned when a required signature fails verification.
var ErrUnverified = fmt.Errorf("envelope signature failed verification")

// VerifyGuarantee checks g.Guarantee against g.Digest.
func VerifyGuarantee[T any](g GuaranteeSigned[T]) error {
	if !g.Guarantee.verify(g.Digest) {
		return ErrUnverified
	}
	return nil
}

// VerifyGuarantor checks g.Guarantor against g.Digest.
func VerifyGuarantor[T any](g GuarantorSigned[T]) error {
	if !g.Guarantor.verify(g.Digest) {
		return ErrUnverified
	}
	return nil
}

// Chain is the envelope shape the kernel actually admits: a task context
// that must carry both a guarantee and a guarantor signature over the
// same digest before admission is attempted (spec.md §3 "the core
// requires both signatures to be present and verifiable").
type Chain[T any] struct {
	Value     T
	Digest    []byte
	Guarantee Signature
	Guarantor Signature
}

// Verify checks both signatures in the chain. Either failing to verify,
// or either signature's public key being empty (i.e. absent), is a
// validation error surfaced to the submitter per spec.md §7 and never
// automatically retried.
func Verify[T any](c Chain[T]) error {
	if len(c.Guarantee.PublicKey) == 0 || len(c.Guarantor.PublicKey) == 0 {
		return fmt.Errorf("%w: missing guarantor chain", ErrUnverified)
	}
	if !c.Guarantee.verify(c.Digest) {
		return fmt.Errorf("%w: guarantee", ErrUnverified)
	}
	if !c.Guarantor.verify(c.Digest) {
		return fmt.Errorf("%w: guarantor", ErrUnverified)
	}
	return nil
}
