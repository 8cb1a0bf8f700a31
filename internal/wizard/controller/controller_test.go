package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/verify"
	"letter-wizard/internal/wizard/fields"
	"letter-wizard/internal/wizard/steps"
)

// ==========================
// Test Helper Functions
// ==========================

func boolPtr(b bool) *bool { return &b }

type fakeVerifier struct {
	verification *verify.Verification
	err          error
	calls        int
}

func (v *fakeVerifier) Verify(_ context.Context, addr fields.MailingAddress) (*verify.Verification, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	if v.verification != nil {
		return v.verification, nil
	}
	// Echo the input back as a deliverable exact match.
	return &verify.Verification{
		Deliverability: "deliverable",
		ValidAddress:   true,
		Candidate:      addr,
	}, nil
}

type fakeSubmitter struct {
	confirmation *submission.Confirmation
	errs         []error
	payloads     []submission.Payload
}

func (s *fakeSubmitter) Send(_ context.Context, payload submission.Payload) (*submission.Confirmation, error) {
	s.payloads = append(s.payloads, payload)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if s.confirmation != nil {
		return s.confirmation, nil
	}
	return &submission.Confirmation{
		LetterID:    "ltr_123",
		Mail:        submission.ChannelResult{Attempted: true, Success: true, TrackingNumber: "9400110200881234567890"},
		SubmittedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}, nil
}

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(_ *fields.FormFields, _ string, _ time.Time) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<html>letter</html>", nil
}

func testDeps(verifier verify.Client, submitter Submitter) Dependencies {
	return Dependencies{
		Verifier:          verifier,
		Submitter:         submitter,
		Renderer:          &fakeRenderer{},
		Logger:            logger.NewNoOpLogger(),
		Locale:            "en",
		VerifyTimeout:     time.Second,
		SubmissionTimeout: time.Second,
		Clock:             func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) },
	}
}

func validAddress() fields.MailingAddress {
	return fields.MailingAddress{
		PrimaryLine:   "150 Court St",
		SecondaryLine: "Apt 2",
		City:          "Brooklyn",
		State:         "NY",
		Zip:           "11201",
	}
}

func filledRecord() fields.FormFields {
	f := fields.FormFields{}
	f.SetReason(fields.ReasonPlannedIncrease)
	f.PlannedIncrease.UnreasonableIncrease = boolPtr(true)
	f.User = fields.UserDetails{
		FirstName: "Maria",
		LastName:  "Lopez",
		Phone:     "(718) 555-0142",
		Email:     "maria@example.com",
		BBL:       "3012345678",
		Address:   validAddress(),
	}
	f.Landlord = fields.LandlordDetails{
		Name:    "Acme Realty LLC",
		Address: validAddress(),
	}
	f.MailChoice = fields.MailChoiceWeMail
	return f
}

// advanceTo walks a controller with fully filled fields up to the target step.
func advanceTo(t *testing.T, c *Controller, target steps.Route) {
	t.Helper()
	require.NoError(t, asGoError(c.SetFields(filledRecord())))
	for {
		route, _ := c.Current()
		if route == target {
			return
		}
		result := c.Advance(context.Background())
		require.Contains(t,
			[]Status{StatusMoved, StatusCompleted}, result.Status,
			"unexpected status %s at %s: %+v", result.Status, route, result)
	}
}

func asGoError(stdErr *errors.StandardError) error {
	if stdErr == nil {
		return nil
	}
	return stdErr
}

// ==========================
// Happy Path Tests
// ==========================

func TestAdvance_FullFlowToSubmission(t *testing.T) {
	verifier := &fakeVerifier{}
	submitter := &fakeSubmitter{}
	c := New(testDeps(verifier, submitter))

	require.Nil(t, c.SetFields(filledRecord()))

	expected := []steps.Route{
		steps.RouteRentIncrease,
		steps.RouteUserDetails,
		steps.RouteUserAddress,
		steps.RouteLandlordDetails,
		steps.RouteLandlordAddress,
		steps.RouteSendOptions,
		steps.RouteConfirmation,
	}

	for i, want := range expected {
		result := c.Advance(context.Background())
		if want == steps.RouteConfirmation {
			assert.Equal(t, StatusCompleted, result.Status, "step %d", i)
			assert.NotNil(t, result.Confirmation)
		} else {
			assert.Equal(t, StatusMoved, result.Status, "step %d", i)
		}
		route, _ := c.Current()
		assert.Equal(t, want, route, "step %d", i)
	}

	assert.Equal(t, 1, verifier.calls)
	assert.Len(t, submitter.payloads, 1)
	assert.NotEmpty(t, submitter.payloads[0].IdempotencyKey)
	assert.Equal(t, "<html>letter</html>", submitter.payloads[0].HTML)

	require.NotNil(t, c.Result())
	assert.Equal(t, "ltr_123", c.Result().LetterID)

	route, progress := c.Current()
	assert.Equal(t, steps.RouteConfirmation, route)
	assert.Equal(t, 100, progress)
}

func TestAdvance_TerminalStepBlocks(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteConfirmation)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusBlocked, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, errors.ErrCodeFlowComplete, result.Err.Code)
}

func TestAdvance_DeadEndBlocks(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	f := filledRecord()
	f.PlannedIncrease.UnreasonableIncrease = boolPtr(false)
	require.Nil(t, c.SetFields(f))

	assert.Equal(t, StatusMoved, c.Advance(context.Background()).Status) // reason
	assert.Equal(t, StatusMoved, c.Advance(context.Background()).Status) // rent-increase
	route, _ := c.Current()
	assert.Equal(t, steps.RouteAllowedIncrease, route)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusBlocked, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, errors.ErrCodeStepBlocked, result.Err.Code)
}

// ==========================
// Validation Gate Tests
// ==========================

func TestAdvance_InvalidFieldsStay(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	// Reason unset: required on the first step.
	result := c.Advance(context.Background())
	assert.Equal(t, StatusInvalid, result.Status)
	assert.Contains(t, result.Errors, fields.PathReason)

	route, _ := c.Current()
	assert.Equal(t, steps.RouteReason, route)
}

func TestAdvance_OnlyCurrentStepValidated(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	f := filledRecord()
	f.User.Email = "broken" // belongs to a later step
	require.Nil(t, c.SetFields(f))

	result := c.Advance(context.Background())
	assert.Equal(t, StatusMoved, result.Status)
}

// ==========================
// Verification Gate Tests
// ==========================

func TestAdvance_VerificationExactMatchPassesThrough(t *testing.T) {
	verifier := &fakeVerifier{}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordAddress)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusMoved, result.Status)
	route, _ := c.Current()
	assert.Equal(t, steps.RouteSendOptions, route)
	assert.Equal(t, 1, verifier.calls)
}

func TestAdvance_VerificationCorrectionPauses(t *testing.T) {
	corrected := validAddress()
	corrected.Zip = "11201-1234"
	verifier := &fakeVerifier{verification: &verify.Verification{
		Deliverability: "deliverable",
		ValidAddress:   true,
		Candidate:      corrected,
	}}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordAddress)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusNeedsConfirmation, result.Status)
	require.NotNil(t, result.Verification)
	require.NotNil(t, result.Verification.Candidate)
	assert.Equal(t, "11201-1234", result.Verification.Candidate.Zip)

	route, _ := c.Current()
	assert.Equal(t, steps.RouteLandlordAddress, route)

	// Accepting the candidate lets the next advance through without a
	// second verifier call.
	accepted, stdErr := c.ConfirmAddress(true)
	assert.Nil(t, stdErr)
	assert.True(t, accepted)
	assert.Equal(t, "11201-1234", c.Fields().Landlord.Address.Zip)

	result = c.Advance(context.Background())
	assert.Equal(t, StatusMoved, result.Status)
	assert.Equal(t, 1, verifier.calls)
}

func TestAdvance_UndeliverablePausesForConfirmation(t *testing.T) {
	verifier := &fakeVerifier{verification: &verify.Verification{
		Deliverability: "undeliverable",
		ValidAddress:   false,
	}}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordAddress)

	// An undeliverable verdict is user-actionable: the wizard blocks on the
	// confirmation decision rather than flagging a field error.
	result := c.Advance(context.Background())
	assert.Equal(t, StatusNeedsConfirmation, result.Status)
	require.NotNil(t, result.Verification)
	assert.Equal(t, verify.Undeliverable, result.Verification.Deliverability)
	assert.False(t, result.Verification.IsDeliverable)

	route, _ := c.Current()
	assert.Equal(t, steps.RouteLandlordAddress, route)

	// The tenant may still stand by the typed address and proceed.
	accepted, stdErr := c.ConfirmAddress(false)
	assert.Nil(t, stdErr)
	assert.True(t, accepted)
	assert.Equal(t, StatusMoved, c.Advance(context.Background()).Status)
}

func TestAdvance_VerifierErrorIsRetryable(t *testing.T) {
	verifier := &fakeVerifier{err: errors.NewVerificationFailedError(assertErr{})}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordAddress)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusVerificationError, result.Status)
	require.NotNil(t, result.Err)
	assert.True(t, result.Err.Retryable)

	// A retry reaches the verifier again.
	verifier.err = nil
	result = c.Advance(context.Background())
	assert.Equal(t, StatusMoved, result.Status)
	assert.Equal(t, 2, verifier.calls)
}

func TestSetFields_EditedAddressDiscardsVerdict(t *testing.T) {
	verifier := &fakeVerifier{}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordAddress)

	assert.Equal(t, StatusMoved, c.Advance(context.Background()).Status)
	assert.Equal(t, 1, verifier.calls)

	// Go back and change the landlord address.
	_, stdErr := c.Retreat()
	require.Nil(t, stdErr)

	f := filledRecord()
	f.Landlord.Address.PrimaryLine = "200 Court St"
	require.Nil(t, c.SetFields(f))

	advanceTo(t, c, steps.RouteSendOptions)
	assert.Equal(t, 2, verifier.calls, "edited address must be re-verified")
}

// ==========================
// Submission Gate Tests
// ==========================

func TestAdvance_SubmissionFailureKeepsKey(t *testing.T) {
	submitter := &fakeSubmitter{errs: []error{
		errors.NewSubmissionFailedError(assertErr{}),
		nil,
	}}
	c := New(testDeps(&fakeVerifier{}, submitter))
	advanceTo(t, c, steps.RouteSendOptions)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusSubmissionError, result.Status)
	require.NotNil(t, result.Err)
	assert.True(t, result.Err.Retryable)
	route, _ := c.Current()
	assert.Equal(t, steps.RouteSendOptions, route)

	result = c.Advance(context.Background())
	assert.Equal(t, StatusCompleted, result.Status)

	require.Len(t, submitter.payloads, 2)
	assert.Equal(t, submitter.payloads[0].IdempotencyKey, submitter.payloads[1].IdempotencyKey,
		"a retry must reuse the idempotency key")
}

func TestAdvance_RejectionRotatesKey(t *testing.T) {
	submitter := &fakeSubmitter{errs: []error{
		errors.NewSubmissionRejectedError("bad payload"),
		nil,
	}}
	c := New(testDeps(&fakeVerifier{}, submitter))
	advanceTo(t, c, steps.RouteSendOptions)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusSubmissionError, result.Status)
	require.NotNil(t, result.Err)
	assert.False(t, result.Err.Retryable)

	result = c.Advance(context.Background())
	assert.Equal(t, StatusCompleted, result.Status)

	require.Len(t, submitter.payloads, 2)
	assert.NotEqual(t, submitter.payloads[0].IdempotencyKey, submitter.payloads[1].IdempotencyKey)
}

func TestAdvance_RenderFailureBlocksSubmission(t *testing.T) {
	submitter := &fakeSubmitter{}
	deps := testDeps(&fakeVerifier{}, submitter)
	deps.Renderer = &fakeRenderer{err: errors.NewRenderFailedError(assertErr{})}
	c := New(deps)
	advanceTo(t, c, steps.RouteSendOptions)

	result := c.Advance(context.Background())
	assert.Equal(t, StatusSubmissionError, result.Status)
	assert.Empty(t, submitter.payloads, "nothing may be submitted without a rendered letter")
}

func TestSetFields_AfterSubmissionRejected(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteConfirmation)

	stdErr := c.SetFields(filledRecord())
	assert.NotNil(t, stdErr)
}

// ==========================
// Retreat Tests
// ==========================

func TestRetreat_ClearsLeftStepFields(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteUserAddress)

	result, stdErr := c.Retreat()
	require.Nil(t, stdErr)
	assert.Equal(t, steps.RouteUserDetails, result.Route)

	f := c.Fields()
	assert.True(t, f.User.Address.IsEmpty(), "address fields must be cleared on retreat")
	assert.Equal(t, "Maria", f.User.FirstName, "earlier steps keep their values")
}

func TestRetreat_AtEntryBlocks(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	_, stdErr := c.Retreat()
	require.NotNil(t, stdErr)
	assert.Equal(t, errors.ErrCodeStepBlocked, stdErr.Code)
}

func TestRetreat_AfterSubmissionBlocks(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteConfirmation)

	_, stdErr := c.Retreat()
	require.NotNil(t, stdErr)
	assert.Equal(t, errors.ErrCodeFlowComplete, stdErr.Code)
}

func TestRetreat_FollowsHistoryThroughBranch(t *testing.T) {
	c := New(testDeps(&fakeVerifier{}, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteUserDetails)

	// user-details was reached from rent-increase, not from a linear index.
	result, stdErr := c.Retreat()
	require.Nil(t, stdErr)
	assert.Equal(t, steps.RouteRentIncrease, result.Route)

	result, stdErr = c.Retreat()
	require.Nil(t, stdErr)
	assert.Equal(t, steps.RouteReason, result.Route)
}

// ==========================
// Snapshot Tests
// ==========================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	verifier := &fakeVerifier{}
	c := New(testDeps(verifier, &fakeSubmitter{}))
	advanceTo(t, c, steps.RouteLandlordDetails)

	snap := c.Snapshot()
	restored := Restore(snap, testDeps(verifier, &fakeSubmitter{}))

	route, progress := restored.Current()
	assert.Equal(t, steps.RouteLandlordDetails, route)
	assert.Equal(t, 65, progress)
	assert.Equal(t, c.Fields(), restored.Fields())

	// The restored session can finish the flow.
	result := restored.Advance(context.Background())
	assert.Equal(t, StatusMoved, result.Status)
}

// assertErr is a trivial error for wiring failures into constructors.
type assertErr struct{}

func (assertErr) Error() string { return "boom" }
