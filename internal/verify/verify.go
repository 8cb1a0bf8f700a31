// Package verify implements the address verification sub-machine that gates
// the landlord-address step. It checks deliverability against an external
// verifier and walks the tenant through confirming or rejecting the
// verifier's corrected candidate.
package verify

import (
	"context"
	"strings"

	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/metrics"
	"letter-wizard/internal/common/validation"
	"letter-wizard/internal/wizard/fields"
	"letter-wizard/internal/wizard/schema"
)

// ==========================
// 1. States and Results
// ==========================

// State is the verification sub-machine state.
type State string

const (
	StateIdle              State = "idle"
	StateVerifying         State = "verifying"
	StateNeedsConfirmation State = "needs_confirmation"
	StateConfirmed         State = "confirmed"
	StateRejected          State = "rejected"
)

// Deliverability classifies the verifier's answer for an address.
type Deliverability string

const (
	Deliverable     Deliverability = "deliverable"
	Undeliverable   Deliverability = "undeliverable"
	MissingUnit     Deliverability = "missing_unit"
	IncorrectUnit   Deliverability = "incorrect_unit"
	UnnecessaryUnit Deliverability = "unnecessary_unit"
)

// Verification is the verifier's answer for one address.
type Verification struct {
	Deliverability string                `json:"deliverability"`
	ValidAddress   bool                  `json:"valid_address"`
	Candidate      fields.MailingAddress `json:"candidate"`
}

// Client checks one address against the external verifier.
type Client interface {
	Verify(ctx context.Context, addr fields.MailingAddress) (*Verification, error)
}

// Outcome summarizes one verification pass for the caller.
type Outcome struct {
	State          State                  `json:"state"`
	Deliverability Deliverability         `json:"deliverability,omitempty"`
	IsDeliverable  bool                   `json:"is_deliverable"`
	Candidate      *fields.MailingAddress `json:"candidate,omitempty"`
}

// ==========================
// 2. Classification Helpers
// ==========================

// Classify maps the verifier's raw deliverability code onto the wizard's
// classification. Undeliverable requires both the raw code and an invalid
// address; a unit caveat or unknown code on a valid address still reaches
// the mailbox.
func Classify(raw string, validAddress bool) Deliverability {
	code := strings.ToLower(raw)
	if code == "undeliverable" && !validAddress {
		return Undeliverable
	}
	switch code {
	case "deliverable_missing_unit", "missing_unit":
		return MissingUnit
	case "deliverable_incorrect_unit", "incorrect_unit":
		return IncorrectUnit
	case "deliverable_unnecessary_unit", "unnecessary_unit":
		return UnnecessaryUnit
	default:
		return Deliverable
	}
}

// Normalize reduces an address to an uppercase comparison key. Two addresses
// normalizing equally are considered the same delivery point.
func Normalize(a fields.MailingAddress) string {
	parts := []string{
		a.Urbanization,
		a.PrimaryLine,
		a.SecondaryLine,
		a.City,
		a.State,
		a.Zip,
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(parts, "|")
}

// SameAddress reports whether the verifier's candidate matches what the
// tenant typed, modulo casing and whitespace.
func SameAddress(input, candidate fields.MailingAddress) bool {
	return Normalize(input) == Normalize(candidate)
}

// ==========================
// 3. Sub-Machine
// ==========================

// Machine tracks verification for one landlord address attempt. It is not
// safe for concurrent use; the owning controller serializes access.
type Machine struct {
	client Client
	logger logger.Logger

	state          State
	input          fields.MailingAddress
	candidate      fields.MailingAddress
	deliverability Deliverability
}

// Snapshot is the serializable form of a Machine for session persistence.
type Snapshot struct {
	State          State                 `json:"state"`
	Input          fields.MailingAddress `json:"input"`
	Candidate      fields.MailingAddress `json:"candidate"`
	Deliverability Deliverability        `json:"deliverability,omitempty"`
}

func NewMachine(client Client, log logger.Logger) *Machine {
	return &Machine{
		client: client,
		logger: log,
		state:  StateIdle,
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Input() fields.MailingAddress { return m.input }

func (m *Machine) Candidate() fields.MailingAddress { return m.candidate }

// Snapshot captures the machine state for persistence.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:          m.state,
		Input:          m.input,
		Candidate:      m.candidate,
		Deliverability: m.deliverability,
	}
}

// Restore rehydrates a machine from a snapshot. An interrupted in-flight
// verification resumes as idle so the next advance retries it.
func (m *Machine) Restore(snap Snapshot) {
	m.state = snap.State
	m.input = snap.Input
	m.candidate = snap.Candidate
	m.deliverability = snap.Deliverability
	if m.state == StateVerifying {
		m.state = StateIdle
	}
}

// Reset returns the machine to idle, discarding any candidate. Called when
// the tenant edits the address or retreats past the gated step.
func (m *Machine) Reset() {
	m.state = StateIdle
	m.input = fields.MailingAddress{}
	m.candidate = fields.MailingAddress{}
	m.deliverability = ""
}

// VerifyAndConfirm runs one verification pass over the given address:
//
//  1. Call the external verifier.
//  2. On network or service failure, reject the attempt; the caller surfaces
//     a retryable error and the address stays untouched.
//  3. A deliverable answer whose candidate matches the input confirms
//     immediately, unit caveats included.
//  4. Otherwise the attempt pauses for tenant confirmation, holding both
//     addresses. An undeliverable answer pauses the same way and is flagged
//     as not deliverable; only a failed call rejects.
func (m *Machine) VerifyAndConfirm(ctx context.Context, addr fields.MailingAddress) (*Outcome, *errors.StandardError) {
	m.state = StateVerifying
	m.input = addr
	m.candidate = fields.MailingAddress{}
	m.deliverability = ""

	verification, err := m.client.Verify(ctx, addr)
	if err != nil {
		m.state = StateRejected
		metrics.AddressVerifications.WithLabelValues("error").Inc()
		m.logger.Warn("Address verification call failed", map[string]interface{}{
			"error": err.Error(),
		})
		if stdErr, ok := err.(*errors.StandardError); ok {
			return m.outcome(), stdErr
		}
		if ctx.Err() == context.DeadlineExceeded {
			return m.outcome(), errors.NewVerificationTimeoutError()
		}
		return m.outcome(), errors.NewVerificationFailedError(err)
	}

	m.deliverability = Classify(verification.Deliverability, verification.ValidAddress)
	metrics.AddressVerifications.WithLabelValues(string(m.deliverability)).Inc()

	m.candidate = verification.Candidate
	if !m.candidate.IsEmpty() {
		// The verifier never answers the unit question, it only corrects lines.
		m.candidate.NoUnit = m.candidate.SecondaryLine == ""
	}

	if m.deliverability != Undeliverable && SameAddress(addr, m.candidate) {
		m.state = StateConfirmed
		m.logger.Debug("Address confirmed without correction", map[string]interface{}{
			"address": addr.OneLine(),
		})
		return m.outcome(), nil
	}

	m.state = StateNeedsConfirmation
	m.logger.Info("Address needs tenant confirmation", map[string]interface{}{
		"input":          addr.OneLine(),
		"candidate":      m.candidate.OneLine(),
		"deliverability": string(m.deliverability),
	})
	return m.outcome(), nil
}

// Confirm resolves a pending confirmation. With useCandidate the corrected
// address replaces the landlord address on the record; otherwise the typed
// address stands. The chosen address is copied in either way and re-checked
// against the address schema afterwards; an invalid choice still has to
// clear normal field validation before the step can advance.
func (m *Machine) Confirm(useCandidate bool, f *fields.FormFields) (bool, *errors.StandardError) {
	if m.state != StateNeedsConfirmation {
		return false, errors.NewValidationFailedError("no address correction awaiting confirmation")
	}

	chosen := m.input
	if useCandidate {
		chosen = m.candidate
	}

	f.Landlord.Address = chosen
	m.state = StateConfirmed

	vr := validation.ValidateInput(fields.AddressMap(chosen), schema.AddressSchema())
	if !vr.Valid {
		m.logger.Warn("Chosen address fails the address schema", map[string]interface{}{
			"use_candidate": useCandidate,
			"errors":        vr.GetErrorMessages(),
		})
		return false, nil
	}
	return true, nil
}

func (m *Machine) outcome() *Outcome {
	out := &Outcome{
		State:          m.state,
		Deliverability: m.deliverability,
		IsDeliverable:  m.deliverability != "" && m.deliverability != Undeliverable,
	}
	if m.state == StateNeedsConfirmation {
		c := m.candidate
		out.Candidate = &c
	}
	return out
}
