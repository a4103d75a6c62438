package email_test

import (
	"context"
	"testing"

	"github.com/robertarktes/event-booking/internal/adapters/email"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/stretchr/testify/require"
)

func TestNewMailer(t *testing.T) {
	log := observability.NewNopLogger()

	m, err := email.NewMailer(&config.Config{MailProvider: "noop"}, log)
	require.NoError(t, err)
	require.IsType(t, email.NoopMailer{}, m)
	require.NoError(t, m.Send(context.Background(), email.Message{To: "a@example.com"}))

	m, err = email.NewMailer(&config.Config{MailProvider: "carrier-pigeon"}, log)
	require.NoError(t, err)
	require.IsType(t, email.NoopMailer{}, m)

	_, err = email.NewMailer(&config.Config{MailProvider: "ses"}, log)
	require.Error(t, err)

	m, err = email.NewMailer(&config.Config{MailProvider: "ses", SESRegion: "eu-west-1", MailFrom: "tickets@example.com"}, log)
	require.NoError(t, err)
	require.NotNil(t, m)
}
