package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/delivery"
	"github.com/wneessen/go-mail"
)

// ErrRelayUnavailable is returned while the breaker is open. Its text classifies as transient.
var ErrRelayUnavailable = errors.New("smtp relay circuit open: temporary failure, connection attempts suspended")

// ConfigurationError reports SMTP settings that are missing at send time.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "smtp configuration incomplete: missing " + strings.Join(e.Missing, ", ")
}

type SMTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	From           string
	TLS            string // opportunistic | mandatory | none | ssl
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

func (c SMTPConfig) validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if c.Port <= 0 {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(c.User) == "" {
		missing = append(missing, "user")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(c.From) == "" {
		missing = append(missing, "from")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// SMTPTransport sends through a single relay guarded by a MicroBreaker.
type SMTPTransport struct {
	cfg SMTPConfig
	br  *MicroBreaker
}

func NewSMTPTransport(cfg SMTPConfig, failThreshold int, openFor time.Duration) *SMTPTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	return &SMTPTransport{cfg: cfg, br: NewMicroBreaker(failThreshold, openFor)}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := t.cfg.validate(); err != nil {
		return "", err
	}

	m, err := t.compose(msg)
	if err != nil {
		return "", err
	}

	if !t.br.TryAcquire() {
		return "", ErrRelayUnavailable
	}

	client, err := mail.NewClient(t.cfg.Host, t.clientOptions()...)
	if err != nil {
		t.br.OnNeutral()
		return "", fmt.Errorf("smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		// only relay-side trouble counts against the breaker
		if delivery.ClassifyError(err).Kind == delivery.Transient {
			t.br.OnFailure()
		} else {
			t.br.OnNeutral()
		}
		return "", err
	}

	t.br.OnSuccess()
	return m.GetMessageID(), nil
}

func (t *SMTPTransport) compose(msg Message) (*mail.Msg, error) {
	if msg.From == "" {
		msg.From = t.cfg.From
	}
	return Compose(msg, "", time.Now())
}

func (t *SMTPTransport) clientOptions() []mail.Option {
	opts := make([]mail.Option, 0, 6)
	switch strings.ToLower(t.cfg.TLS) {
	case "mandatory":
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case "ssl":
		opts = append(opts, mail.WithSSLPort(false))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	opts = append(opts,
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(t.cfg.ConnectTimeout),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.cfg.User),
		mail.WithPassword(t.cfg.Password),
	)
	return opts
}
