// Package controller drives a single wizard session: it owns the form
// record, the current step, navigation history, the address verification
// sub-machine and the final submission handshake.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/metrics"
	"letter-wizard/internal/verify"
	"letter-wizard/internal/wizard/fields"
	"letter-wizard/internal/wizard/schema"
	"letter-wizard/internal/wizard/steps"
)

// ==========================
// 1. Results and Dependencies
// ==========================

// Status reports the outcome of an advance attempt.
type Status string

const (
	StatusMoved             Status = "moved"
	StatusInvalid           Status = "invalid"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusVerificationError Status = "verification_error"
	StatusSubmissionError   Status = "submission_error"
	StatusCompleted         Status = "completed"
	StatusBlocked           Status = "blocked"
	StatusBusy              Status = "busy"
	StatusStale             Status = "stale"
)

// AdvanceResult is what the caller renders after an advance attempt.
type AdvanceResult struct {
	Status       Status                       `json:"status"`
	Route        steps.Route                  `json:"route"`
	Progress     int                          `json:"progress"`
	Errors       map[string]schema.FieldError `json:"errors,omitempty"`
	Verification *verify.Outcome              `json:"verification,omitempty"`
	Confirmation *submission.Confirmation     `json:"confirmation,omitempty"`
	Err          *errors.StandardError        `json:"error,omitempty"`
}

// Submitter sends a finished letter to the mailing service.
type Submitter interface {
	Send(ctx context.Context, payload submission.Payload) (*submission.Confirmation, error)
}

// Renderer produces the letter HTML from the record.
type Renderer interface {
	Render(f *fields.FormFields, locale string, date time.Time) (string, error)
}

// Dependencies wires a controller.
type Dependencies struct {
	Verifier          verify.Client
	Submitter         Submitter
	Renderer          Renderer
	Logger            logger.Logger
	Locale            string
	VerifyTimeout     time.Duration
	SubmissionTimeout time.Duration
	Clock             func() time.Time
}

// ==========================
// 2. Controller
// ==========================

// Controller serializes all access to one session's state. Navigation is
// locked out while a network call for the session is in flight, and results
// from an abandoned attempt are discarded.
type Controller struct {
	mu sync.Mutex

	fields  fields.FormFields
	current steps.Route
	history []steps.Route

	verifier *verify.Machine

	submitter Submitter
	renderer  Renderer
	logger    logger.Logger
	locale    string
	clock     func() time.Time

	verifyTimeout     time.Duration
	submissionTimeout time.Duration

	idempotencyKey string
	result         *submission.Confirmation

	busy    bool
	attempt uint64
}

// Snapshot is the serializable state of a session.
type Snapshot struct {
	Fields         fields.FormFields        `json:"fields"`
	Current        steps.Route              `json:"current"`
	History        []steps.Route            `json:"history"`
	Verify         verify.Snapshot          `json:"verify"`
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
	Result         *submission.Confirmation `json:"result,omitempty"`
	Locale         string                   `json:"locale"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func New(deps Dependencies) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	locale := deps.Locale
	if locale == "" {
		locale = "en"
	}
	return &Controller{
		current:           steps.Entry(),
		verifier:          verify.NewMachine(deps.Verifier, deps.Logger),
		submitter:         deps.Submitter,
		renderer:          deps.Renderer,
		logger:            deps.Logger,
		locale:            locale,
		clock:             clock,
		verifyTimeout:     deps.VerifyTimeout,
		submissionTimeout: deps.SubmissionTimeout,
	}
}

// Restore rebuilds a controller from a persisted snapshot.
func Restore(snap *Snapshot, deps Dependencies) *Controller {
	c := New(deps)
	c.fields = snap.Fields
	c.current = snap.Current
	c.history = append([]steps.Route(nil), snap.History...)
	c.verifier.Restore(snap.Verify)
	c.idempotencyKey = snap.IdempotencyKey
	c.result = snap.Result
	if snap.Locale != "" {
		c.locale = snap.Locale
	}
	return c
}

// Snapshot captures the session state for persistence. It must not be called
// while a navigation call is in flight.
func (c *Controller) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Snapshot{
		Fields:         c.fields,
		Current:        c.current,
		History:        append([]steps.Route(nil), c.history...),
		Verify:         c.verifier.Snapshot(),
		IdempotencyKey: c.idempotencyKey,
		Result:         c.result,
		Locale:         c.locale,
		UpdatedAt:      c.clock(),
	}
}

// Fields returns a copy of the record.
func (c *Controller) Fields() fields.FormFields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Current returns the current route and its progress.
func (c *Controller) Current() (steps.Route, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.progressLocked()
}

// Verification exposes the sub-machine state for rendering.
func (c *Controller) Verification() verify.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifier.Snapshot()
}

// Result returns the submission confirmation, if the letter was sent.
func (c *Controller) Result() *submission.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Locale returns the letter locale for this session.
func (c *Controller) Locale() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locale
}

func (c *Controller) progressLocked() int {
	if def, ok := steps.Lookup(c.current); ok {
		return def.Progress
	}
	return 0
}

// ==========================
// 3. Mutation
// ==========================

// SetFields replaces the record with the caller's merged form state. Editing
// the landlord address discards any verification verdict, and any edit
// invalidates the pending submission attempt.
func (c *Controller) SetFields(f fields.FormFields) *errors.StandardError {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return errors.NewValidationFailedError("a navigation call is in flight")
	}
	if c.result != nil {
		return errors.NewValidationFailedError("letter already submitted")
	}

	if f.Reason != c.fields.Reason {
		f.SetReason(f.Reason)
	}

	if !verify.SameAddress(f.Landlord.Address, c.fields.Landlord.Address) {
		c.verifier.Reset()
	}

	c.fields = f
	c.idempotencyKey = ""
	c.attempt++
	return nil
}

// ==========================
// 4. Navigation
// ==========================

// Advance validates the current step's fields, runs the step's gate if it
// has one, and moves to the next step.
func (c *Controller) Advance(ctx context.Context) *AdvanceResult {
	c.mu.Lock()

	if c.busy {
		return c.finish(&AdvanceResult{Status: StatusBusy})
	}

	def, ok := steps.Lookup(c.current)
	if !ok {
		return c.finish(&AdvanceResult{
			Status: StatusBlocked,
			Err:    errors.NewValidationFailedError("unknown step"),
		})
	}

	if len(def.Fields) > 0 {
		result := schema.Validate(&c.fields, def.Fields)
		if !result.Valid {
			metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusInvalid)).Inc()
			return c.finish(&AdvanceResult{Status: StatusInvalid, Errors: result.Errors})
		}
	}

	switch c.current {
	case steps.RouteLandlordAddress:
		if c.verifier.State() != verify.StateConfirmed {
			return c.verifyLocked(ctx)
		}
	case steps.RouteSendOptions:
		if c.result == nil {
			return c.submitLocked(ctx)
		}
	}

	return c.finish(c.moveLocked())
}

// verifyLocked runs the address verification gate. The lock is released for
// the duration of the network call; the attempt token detects a session that
// was restarted underneath it.
func (c *Controller) verifyLocked(ctx context.Context) *AdvanceResult {
	c.busy = true
	c.attempt++
	token := c.attempt
	addr := c.fields.Landlord.Address
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	outcome, stdErr := c.verifier.VerifyAndConfirm(callCtx, addr)
	cancel()

	c.mu.Lock()
	c.busy = false

	if c.attempt != token {
		c.verifier.Reset()
		return c.finish(&AdvanceResult{Status: StatusStale})
	}

	if stdErr != nil {
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusVerificationError)).Inc()
		return c.finish(&AdvanceResult{Status: StatusVerificationError, Err: stdErr})
	}

	if outcome.State == verify.StateNeedsConfirmation {
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusNeedsConfirmation)).Inc()
		return c.finish(&AdvanceResult{Status: StatusNeedsConfirmation, Verification: outcome})
	}

	result := c.moveLocked()
	result.Verification = outcome
	return c.finish(result)
}

// submitLocked renders the letter and sends it to the mailing service. The
// idempotency key is minted on the first attempt and reused across retries.
func (c *Controller) submitLocked(ctx context.Context) *AdvanceResult {
	html, err := c.renderer.Render(&c.fields, c.locale, c.clock())
	if err != nil {
		stdErr, ok := err.(*errors.StandardError)
		if !ok {
			stdErr = errors.NewRenderFailedError(err)
		}
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusSubmissionError)).Inc()
		return c.finish(&AdvanceResult{Status: StatusSubmissionError, Err: stdErr})
	}

	if c.idempotencyKey == "" {
		c.idempotencyKey = uuid.NewString()
	}
	payload := submission.Payload{
		IdempotencyKey: c.idempotencyKey,
		Locale:         c.locale,
		Fields:         c.fields,
		HTML:           html,
	}

	c.busy = true
	c.attempt++
	token := c.attempt
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.submissionTimeout)
	start := time.Now()
	confirmation, sendErr := c.submitter.Send(callCtx, payload)
	cancel()

	c.mu.Lock()
	c.busy = false

	status := "success"
	if sendErr != nil {
		status = "error"
	}
	metrics.SubmissionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	metrics.LetterSubmissions.WithLabelValues(status).Inc()

	if c.attempt != token {
		return c.finish(&AdvanceResult{Status: StatusStale})
	}

	if sendErr != nil {
		stdErr, ok := sendErr.(*errors.StandardError)
		if !ok {
			stdErr = errors.NewSubmissionFailedError(sendErr)
		}
		if stdErr.Code == errors.ErrCodeSubmissionRejected {
			// A rejected payload must not be replayed under the same key.
			c.idempotencyKey = ""
		}
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusSubmissionError)).Inc()
		return c.finish(&AdvanceResult{Status: StatusSubmissionError, Err: stdErr})
	}

	c.result = confirmation
	result := c.moveLocked()
	result.Status = StatusCompleted
	result.Confirmation = confirmation
	return c.finish(result)
}

// moveLocked performs the step transition after all gates passed.
func (c *Controller) moveLocked() *AdvanceResult {
	next := steps.ResolveNext(c.current, &c.fields)
	switch next {
	case steps.RouteNone:
		err := errors.NewValidationFailedError("this step has no next step")
		err.Code = errors.ErrCodeStepBlocked
		if steps.IsTerminal(c.current) {
			err.Code = errors.ErrCodeFlowComplete
			err.Details = "the letter has been sent"
		}
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusBlocked)).Inc()
		return &AdvanceResult{Status: StatusBlocked, Route: c.current, Progress: c.progressLocked(), Err: err}
	case steps.RouteUndetermined:
		metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusBlocked)).Inc()
		return &AdvanceResult{
			Status: StatusBlocked,
			Err:    errors.NewValidationFailedError("a required answer is missing"),
		}
	}

	c.history = append(c.history, c.current)
	c.current = next
	metrics.WizardAdvances.WithLabelValues(string(c.current), string(StatusMoved)).Inc()
	c.logger.Info("Wizard advanced", map[string]interface{}{
		"route":    string(c.current),
		"progress": c.progressLocked(),
	})
	return &AdvanceResult{Status: StatusMoved}
}

// finish stamps the route and progress onto the result and releases the lock.
func (c *Controller) finish(result *AdvanceResult) *AdvanceResult {
	if result.Route == "" {
		result.Route = c.current
		result.Progress = c.progressLocked()
	}
	c.mu.Unlock()
	return result
}

// Retreat steps back to the previous step. The fields owned by the step
// being left are cleared so a later revisit starts clean, and leaving the
// landlord-address step discards the verification verdict.
func (c *Controller) Retreat() (*AdvanceResult, *errors.StandardError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return nil, errors.NewValidationFailedError("a navigation call is in flight")
	}
	if len(c.history) == 0 {
		err := errors.NewValidationFailedError("already at the first step")
		err.Code = errors.ErrCodeStepBlocked
		return nil, err
	}
	if c.result != nil {
		err := errors.NewValidationFailedError("the letter has been sent")
		err.Code = errors.ErrCodeFlowComplete
		return nil, err
	}

	if def, ok := steps.Lookup(c.current); ok {
		c.fields.ClearPaths(def.Fields)
	}
	if c.current == steps.RouteLandlordAddress {
		c.verifier.Reset()
	}
	c.idempotencyKey = ""
	c.attempt++

	metrics.WizardRetreats.WithLabelValues(string(c.current)).Inc()

	c.current = c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]

	c.logger.Info("Wizard retreated", map[string]interface{}{
		"route": string(c.current),
	})

	return &AdvanceResult{
		Status:   StatusMoved,
		Route:    c.current,
		Progress: c.progressLocked(),
	}, nil
}

// ConfirmAddress resolves a pending address correction. When the chosen
// address holds up, the caller advances again to leave the gated step.
func (c *Controller) ConfirmAddress(useCandidate bool) (bool, *errors.StandardError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return false, errors.NewValidationFailedError("a navigation call is in flight")
	}
	return c.verifier.Confirm(useCandidate, &c.fields)
}

// ResetAddress abandons a pending or failed verification so the tenant can
// edit the typed address.
func (c *Controller) ResetAddress() *errors.StandardError {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return errors.NewValidationFailedError("a navigation call is in flight")
	}
	c.verifier.Reset()
	c.attempt++
	return nil
}
