// Package notify fans copies of a sent letter out to the tenant: an email
// copy over SES and a tracking notice over SNS. Failures here never undo a
// submission; they are collected and logged.
package notify

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/wizard/fields"
)

// EmailSender is the slice of SES the service uses.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// SMSSender is the slice of SNS the service uses.
type SMSSender interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// Failure records one undelivered notification.
type Failure struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Err       *errors.StandardError
}

// Service sends post-submission copies.
type Service struct {
	email  EmailSender
	sms    SMSSender
	cfg    config.NotificationConfig
	logger logger.Logger
}

func NewService(email EmailSender, sms SMSSender, cfg config.NotificationConfig, log logger.Logger) *Service {
	return &Service{email: email, sms: sms, cfg: cfg, logger: log}
}

// FanOut sends the letter copy to every requested recipient and a tracking
// notice to the tenant's phone. It returns the failures rather than erroring
// out, since the letter itself is already on its way.
func (s *Service) FanOut(ctx context.Context, f *fields.FormFields, html string, conf *submission.Confirmation) []Failure {
	var failures []Failure

	if s.cfg.Email.Enabled && s.email != nil {
		recipients := []string{}
		if f.CCUser && f.User.Email != "" {
			recipients = append(recipients, f.User.Email)
		}
		recipients = append(recipients, f.ExtraEmails...)

		for _, recipient := range recipients {
			if err := s.sendEmailCopy(ctx, recipient, f, html); err != nil {
				failures = append(failures, Failure{Channel: "email", Recipient: recipient, Err: err})
			}
		}
	}

	if s.cfg.SMS.Enabled && s.sms != nil && f.User.Phone != "" && conf.Mail.TrackingNumber != "" {
		if err := s.sendTrackingSMS(ctx, f.User.Phone, conf.Mail.TrackingNumber); err != nil {
			failures = append(failures, Failure{Channel: "sms", Recipient: f.User.Phone, Err: err})
		}
	}

	for _, failure := range failures {
		s.logger.Warn("Notification delivery failed", map[string]interface{}{
			"channel":   failure.Channel,
			"recipient": failure.Recipient,
			"error":     failure.Err.Error(),
		})
	}

	return failures
}

func (s *Service) sendEmailCopy(ctx context.Context, recipient string, f *fields.FormFields, html string) *errors.StandardError {
	subject := fmt.Sprintf("Copy of the letter sent to %s", f.Landlord.Name)
	input := &ses.SendEmailInput{
		Source: awssdk.String(s.cfg.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(subject)},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: awssdk.String(html)},
			},
		},
	}

	if _, err := s.email.SendEmail(ctx, input); err != nil {
		return errors.NewNotificationSendFailedError("email", err)
	}
	s.logger.Info("Letter copy emailed", map[string]interface{}{"recipient": recipient})
	return nil
}

func (s *Service) sendTrackingSMS(ctx context.Context, phone, trackingNumber string) *errors.StandardError {
	message := fmt.Sprintf(
		"Your letter is on its way. Certified mail tracking number: %s", trackingNumber)
	input := &sns.PublishInput{
		PhoneNumber: awssdk.String(phone),
		Message:     awssdk.String(message),
	}
	if s.cfg.SMS.SenderID != "" {
		input.MessageAttributes = snsSenderID(s.cfg.SMS.SenderID)
	}

	if _, err := s.sms.Publish(ctx, input); err != nil {
		return errors.NewNotificationSendFailedError("sms", err)
	}
	s.logger.Info("Tracking notice sent", map[string]interface{}{"phone": phone})
	return nil
}

func snsSenderID(senderID string) map[string]snstypes.MessageAttributeValue {
	return map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SenderID": {
			DataType:    awssdk.String("String"),
			StringValue: awssdk.String(senderID),
		},
	}
}
