package email

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/observability"
)

type Message struct {
	To      string
	Subject string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer picks SES when MAIL_PROVIDER=ses and a no-op mailer otherwise.
func NewMailer(cfg *config.Config, logger observability.Logger) (Mailer, error) {
	switch cfg.MailProvider {
	case "ses":
		if cfg.SESRegion == "" || cfg.MailFrom == "" {
			return nil, errors.New("ses mailer needs SES_REGION and MAIL_FROM")
		}
		awsCfg := aws.Config{Region: cfg.SESRegion}
		if cfg.SESAccessKeyID != "" {
			awsCfg.Credentials = aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(cfg.SESAccessKeyID, cfg.SESSecretAccessKey, ""),
			)
		}
		return &sesMailer{client: ses.NewFromConfig(awsCfg), from: cfg.MailFrom, logger: logger}, nil
	case "", "noop":
		return NoopMailer{logger: logger}, nil
	default:
		logger.WithField("provider", cfg.MailProvider).Warn("unknown mail provider, using noop")
		return NoopMailer{logger: logger}, nil
	}
}

type sesMailer struct {
	client *ses.Client
	from   string
	logger observability.Logger
}

func (s *sesMailer) Send(ctx context.Context, msg Message) error {
	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "send email via ses")
	}
	s.logger.WithField("message_id", aws.ToString(out.MessageId)).Debug("email sent")
	return nil
}

type NoopMailer struct {
	logger observability.Logger
}

func NewNoopMailer(logger observability.Logger) NoopMailer {
	return NoopMailer{logger: logger}
}

func (n NoopMailer) Send(_ context.Context, msg Message) error {
	if n.logger != nil {
		n.logger.WithField("to", msg.To).WithField("subject", msg.Subject).Debug("noop mailer")
	}
	return nil
}
