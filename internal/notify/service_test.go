package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/wizard/fields"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeEmailSender struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeEmailSender) SendEmail(_ context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

type fakeSMSSender struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSMSSender) Publish(_ context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func notifyConfig() config.NotificationConfig {
	cfg := config.NotificationConfig{}
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "no-reply@example.org"
	cfg.SMS.Enabled = true
	cfg.SMS.SenderID = "LTRWIZARD"
	return cfg
}

func sentRecord() (*fields.FormFields, *submission.Confirmation) {
	f := &fields.FormFields{}
	f.SetReason(fields.ReasonPlannedIncrease)
	f.User.Email = "maria@example.com"
	f.User.Phone = "+17185550142"
	f.Landlord.Name = "Acme Realty LLC"
	f.CCUser = true
	f.ExtraEmails = []string{"friend@example.com"}

	conf := &submission.Confirmation{
		LetterID: "ltr_123",
		Mail:     submission.ChannelResult{Attempted: true, Success: true, TrackingNumber: "9400110200881234567890"},
	}
	return f, conf
}

// ==========================
// Fan-Out Tests
// ==========================

func TestFanOut_SendsAllChannels(t *testing.T) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	svc := NewService(email, sms, notifyConfig(), logger.NewTestLogger(t))

	f, conf := sentRecord()
	failures := svc.FanOut(context.Background(), f, "<html>letter</html>", conf)

	assert.Empty(t, failures)
	// cc_user plus one extra email.
	require.Len(t, email.inputs, 2)
	assert.Equal(t, []string{"maria@example.com"}, email.inputs[0].Destination.ToAddresses)
	assert.Equal(t, []string{"friend@example.com"}, email.inputs[1].Destination.ToAddresses)
	assert.Contains(t, *email.inputs[0].Message.Subject.Data, "Acme Realty LLC")

	require.Len(t, sms.inputs, 1)
	assert.Equal(t, "+17185550142", *sms.inputs[0].PhoneNumber)
	assert.Contains(t, *sms.inputs[0].Message, "9400110200881234567890")
}

func TestFanOut_NoCCWithoutOptIn(t *testing.T) {
	email := &fakeEmailSender{}
	svc := NewService(email, &fakeSMSSender{}, notifyConfig(), logger.NewTestLogger(t))

	f, conf := sentRecord()
	f.CCUser = false
	f.ExtraEmails = nil

	failures := svc.FanOut(context.Background(), f, "<html>letter</html>", conf)
	assert.Empty(t, failures)
	assert.Empty(t, email.inputs)
}

func TestFanOut_NoSMSWithoutTracking(t *testing.T) {
	sms := &fakeSMSSender{}
	svc := NewService(&fakeEmailSender{}, sms, notifyConfig(), logger.NewTestLogger(t))

	f, conf := sentRecord()
	conf.Mail.TrackingNumber = ""

	svc.FanOut(context.Background(), f, "<html>letter</html>", conf)
	assert.Empty(t, sms.inputs)
}

func TestFanOut_CollectsFailuresWithoutAborting(t *testing.T) {
	email := &fakeEmailSender{err: errors.New("throttled")}
	sms := &fakeSMSSender{}
	svc := NewService(email, sms, notifyConfig(), logger.NewTestLogger(t))

	f, conf := sentRecord()
	failures := svc.FanOut(context.Background(), f, "<html>letter</html>", conf)

	// Both email copies failed, SMS still went out.
	assert.Len(t, failures, 2)
	for _, failure := range failures {
		assert.Equal(t, "email", failure.Channel)
		assert.True(t, failure.Err.Retryable)
	}
	assert.Len(t, sms.inputs, 1)
}

func TestFanOut_DisabledChannels(t *testing.T) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	cfg := notifyConfig()
	cfg.Email.Enabled = false
	cfg.SMS.Enabled = false
	svc := NewService(email, sms, cfg, logger.NewTestLogger(t))

	f, conf := sentRecord()
	failures := svc.FanOut(context.Background(), f, "<html>letter</html>", conf)

	assert.Empty(t, failures)
	assert.Empty(t, email.inputs)
	assert.Empty(t, sms.inputs)
}
