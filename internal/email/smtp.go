package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/election-api/pkg/circuitbreaker"
	"github.com/jwalitptl/election-api/pkg/logger"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Domain is used on the right-hand side of generated Message-IDs.
	Domain             string
	InsecureSkipVerify bool
	// RatePerSecond throttles outbound messages; zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// Dialer is the part of gomail.Dialer the SMTP service uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPService struct {
	dialer  Dialer
	from    string
	domain  string
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewSMTPService(cfg Config, log *logger.Logger) *SMTPService {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return NewSMTPServiceWithDialer(cfg, d, log)
}

func NewSMTPServiceWithDialer(cfg Config, d Dialer, log *logger.Logger) *SMTPService {
	domain := cfg.Domain
	if domain == "" {
		domain = cfg.Host
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &SMTPService{
		dialer:  d,
		from:    cfg.From,
		domain:  domain,
		limiter: limiter,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:                "smtp",
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			OnStateChange: func(name, from, to string) {
				log.Info("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		}),
		logger: log,
	}
}

var _ Service = (*SMTPService)(nil)

func (s *SMTPService) Deliver(ctx context.Context, to, subject, html, text string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("mail throttle: %w", err)
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", text)
	if html != "" {
		m.AddAlternative("text/html", html)
	}

	if err := s.cb.Execute(func() error { return s.dialer.DialAndSend(m) }); err != nil {
		return "", fmt.Errorf("failed to send mail: %w", err)
	}

	s.logger.Debug("mail delivered", "to", to, "message_id", messageID)
	return messageID, nil
}

// LogService writes mail to the log instead of a relay. Used when no SMTP
// host is configured.
type LogService struct {
	logger *logger.Logger
}

func NewLogService(log *logger.Logger) *LogService {
	return &LogService{logger: log}
}

func (s *LogService) Deliver(_ context.Context, to, subject, _, text string) (string, error) {
	messageID := fmt.Sprintf("<%s@localhost>", uuid.New().String())
	s.logger.Info("mail (log transport)", "to", to, "subject", subject, "message_id", messageID, "body", text)
	return messageID, nil
}
