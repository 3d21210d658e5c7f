// Package notify delivers security alert notifications to operators.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/mwalcott3/vigil/internal/models"
)

// SESNotifier emails critical security alerts to the operations list via
// AWS SES. Delivery is best effort; callers must not treat a send failure
// as a reason to drop the alert itself.
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	toAddresses []string
	logger      *slog.Logger
}

// NewSESNotifier creates a new SES-backed alert notifier
func NewSESNotifier(region, fromAddress string, toAddresses []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddresses: toAddresses,
		logger:      logger,
	}, nil
}

// NotifyAlert sends one alert email.
func (n *SESNotifier) NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if len(n.toAddresses) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] security alert: %s", strings.ToUpper(alert.Severity), alert.Type)

	var b strings.Builder
	fmt.Fprintf(&b, "Security alert raised at %s\n\n", alert.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Type:        %s\n", alert.Type)
	fmt.Fprintf(&b, "Severity:    %s\n", alert.Severity)
	fmt.Fprintf(&b, "Risk score:  %d\n", alert.RiskScore)
	if alert.Identity != nil {
		fmt.Fprintf(&b, "Identity:    %s\n", *alert.Identity)
	}
	fmt.Fprintf(&b, "\n%s\n", alert.Description)
	if len(alert.Evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		for key, val := range alert.Evidence {
			fmt.Fprintf(&b, "  %s: %v\n", key, val)
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.toAddresses,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(b.String()),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send alert email via SES",
			slog.String("alert_type", alert.Type),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	n.logger.Info("alert email sent",
		slog.String("alert_type", alert.Type),
		slog.String("message_id", *result.MessageId))

	return nil
}
