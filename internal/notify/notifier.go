package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/mkre153/dealfinder-pro-sub000/internal/config"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/logger"
)

// RecipientLookup resolves the client behind an agent to a deliverable
// address. Implemented by the Postgres agent repository.
type RecipientLookup interface {
	ClientEmailForAgent(ctx context.Context, agentID string) (name, email string, err error)
}

// EmailAPI is the slice of the SES v2 client the notifier uses.
type EmailAPI interface {
	SendEmail(ctx context.Context, input *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier sends match-alert emails through AWS SES.
type Notifier struct {
	client    EmailAPI
	templates *TemplateService
	lookup    RecipientLookup
	fromEmail string
	fromName  string
}

// NewNotifier creates the SES client from static credentials and wires the
// template service.
func NewNotifier(ctx context.Context, cfg appconfig.NotifyConfig, lookup RecipientLookup) (*Notifier, error) {
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("notify: from_email is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Notifier{
		client:    sesv2.NewFromConfig(awsCfg),
		templates: NewTemplateService(),
		lookup:    lookup,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

// newNotifier wires an explicit email API, used by tests.
func newNotifier(client EmailAPI, lookup RecipientLookup, fromEmail, fromName string) *Notifier {
	return &Notifier{
		client:    client,
		templates: NewTemplateService(),
		lookup:    lookup,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// MatchAlert renders and sends one alert email for the event. The caller
// treats any error as final.
func (n *Notifier) MatchAlert(ctx context.Context, ev domain.OutboxEvent) error {
	name, email, err := n.lookup.ClientEmailForAgent(ctx, ev.AgentID)
	if err != nil {
		return fmt.Errorf("resolving recipient for agent %s: %w", ev.AgentID, err)
	}
	if email == "" {
		return fmt.Errorf("agent %s has email alerts enabled but no client address", ev.AgentID)
	}

	subject, html, err := n.templates.RenderAlert(ev, name)
	if err != nil {
		return fmt.Errorf("rendering alert: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("agent_id"), Value: aws.String(ev.AgentID)},
			{Name: aws.String("event_type"), Value: aws.String(string(ev.EventType))},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("sending alert: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[Notify] Alert sent to %s for agent %s (id: %s)",
		logger.RedactEmail(email), ev.AgentID, messageID)
	return nil
}
