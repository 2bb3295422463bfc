// Package outbound 通过 SMTP 中继投递外发邮件，每封只尝试一次，不做重试与排队。
package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Sender SMTP 中继发件器
type Sender struct {
	cfg      config.OutboundConfig
	heloName string
	log      *zap.Logger
	now      func() time.Time

	// tlsConfig 为空时按中继主机名校验证书
	tlsConfig *tls.Config
}

// NewSender 创建发件器。heloName 用于 EHLO，通常是邮箱域名。
func NewSender(cfg config.OutboundConfig, heloName string, log *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if heloName == "" {
		heloName = "localhost"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		cfg:      cfg,
		heloName: heloName,
		log:      log.Named("outbound"),
		now:      time.Now,
	}
}

// Send 投递一封邮件，任何失败都归类为 ErrTransport
func (s *Sender) Send(ctx context.Context, m *domain.OutgoingMail) error {
	if s.cfg.RelayAddr == "" {
		return domain.Errorf(domain.ErrTransport, "no outbound relay configured")
	}
	if m.FromName == "" {
		m.FromName = s.cfg.FromName
	}

	raw, err := Compose(m, s.now())
	if err != nil {
		return domain.Errorf(domain.ErrTransport, "compose: %v", err)
	}
	if err := s.deliver(ctx, m.From, m.To, raw); err != nil {
		s.log.Warn("outbound delivery failed",
			zap.String("to", m.To),
			zap.String("relay", s.cfg.RelayAddr),
			zap.Error(err),
		)
		return domain.Errorf(domain.ErrTransport, "%v", err)
	}

	s.log.Info("outbound message delivered",
		zap.String("to", m.To),
		zap.String("message_id", m.MessageID),
	)
	return nil
}

func (s *Sender) deliver(ctx context.Context, from, to string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.RelayAddr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var c *gosmtp.Client
	if s.cfg.StartTLS {
		// 中继未声明 STARTTLS 时直接失败，不降级为明文
		c, err = gosmtp.NewClientStartTLS(conn, s.tlsConfigFor())
		if err != nil {
			return err
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	c.CommandTimeout = s.cfg.Timeout
	c.SubmissionTimeout = s.cfg.Timeout
	defer c.Close()

	if err := c.Hello(s.heloName); err != nil {
		return err
	}
	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return err
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return err
	}
	if err := c.Rcpt(to, nil); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := bytes.NewReader(raw).WriteTo(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *Sender) tlsConfigFor() *tls.Config {
	if s.tlsConfig != nil {
		return s.tlsConfig
	}
	host, _, _ := net.SplitHostPort(s.cfg.RelayAddr)
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}
