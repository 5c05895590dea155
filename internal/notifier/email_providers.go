package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/resend/resend-go/v2"
)

// SESProvider sends email through AWS SES v2.
type SESProvider struct {
	client *sesv2.Client
}

// NewSESProvider loads the default AWS credential chain for region.
func NewSESProvider(ctx context.Context, region string) (*SESProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESProvider{client: sesv2.NewFromConfig(cfg)}, nil
}

// Name returns "ses".
func (p *SESProvider) Name() string { return "ses" }

// SendEmail sends email via SES.
func (p *SESProvider) SendEmail(ctx context.Context, email *Email) (string, error) {
	var body types.Body
	if email.HTML != "" {
		body.Html = &types.Content{Data: &email.HTML}
	}
	if email.Text != "" {
		body.Text = &types.Content{Data: &email.Text}
	}

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &email.From,
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &email.Subject},
				Body:    &body,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// ResendProvider sends email through the Resend API.
type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider creates a Resend provider.
func NewResendProvider(apiKey string) (*ResendProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	return &ResendProvider{client: resend.NewClient(apiKey)}, nil
}

// Name returns "resend".
func (p *ResendProvider) Name() string { return "resend" }

// SendEmail sends email via Resend.
func (p *ResendProvider) SendEmail(ctx context.Context, email *Email) (string, error) {
	params := &resend.SendEmailRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
		Html:    email.HTML,
	}
	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("resend send: %w", err)
	}
	return sent.Id, nil
}
