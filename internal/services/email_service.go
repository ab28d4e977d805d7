package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// EmailService defines the interface for sending security emails
type EmailService interface {
	SendOtpEmail(ctx context.Context, email, code string, expiresAt time.Time) error
	SendSecurityAlert(ctx context.Context, email, subject, body string) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendOtpEmail sends a one-time verification code
func (s *AWSSESEmailService) SendOtpEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 20px; background-color: #f8f9fa; border-radius: 4px; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Your verification code</h1>
        <p>Use this code to continue signing in:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>Security Notice:</strong> This code expires in %d minutes. Never share it with anyone.
        </div>
        <p><strong>Didn't request this code?</strong><br>
        Someone may be trying to access your account. We recommend changing your password.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, code, minutes)

	textBody := fmt.Sprintf(`Your verification code

Use this code to continue signing in:

    %s

Security Notice: This code expires in %d minutes. Never share it with anyone.

Didn't request this code?
Someone may be trying to access your account. We recommend changing your password.

This is an automated message. Please do not reply to this email.
`, code, minutes)

	return s.send(ctx, email, "Your verification code", htmlBody, textBody)
}

// SendSecurityAlert notifies the user of a security-relevant account event
func (s *AWSSESEmailService) SendSecurityAlert(ctx context.Context, email, subject, body string) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .alert { background-color: #f8d7da; padding: 15px; border-left: 4px solid #dc3545; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Security alert</h1>
        <div class="alert">%s</div>
        <p>If this was you, no action is needed. If you don't recognize this activity, change your password immediately and review your active sessions.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, body)

	textBody := fmt.Sprintf(`Security alert

%s

If this was you, no action is needed. If you don't recognize this activity, change your password immediately and review your active sessions.

This is an automated message. Please do not reply to this email.
`, body)

	return s.send(ctx, email, subject, htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))
	return nil
}
