package outbound

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/smtp"
)

type relayRecipients struct{}

func (relayRecipients) Resolve(_ context.Context, address string) (*domain.MailboxAlias, error) {
	if address == "ref@league.test" {
		return &domain.MailboxAlias{ID: "x", EmailAddress: address}, nil
	}
	return nil, domain.ErrUnknownRecipient
}

type relayInbox struct {
	mu   sync.Mutex
	mail []domain.InboundEmail
}

func (r *relayInbox) Ingest(_ context.Context, _ string, e *domain.InboundEmail) (*domain.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mail = append(r.mail, *e)
	return &domain.IngestResult{ConversationID: "c"}, nil
}

func (r *relayInbox) received() []domain.InboundEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.InboundEmail(nil), r.mail...)
}

// startRelay 用本仓库的监听器充当中继
func startRelay(t *testing.T) (string, *relayInbox) {
	t.Helper()
	inbox := &relayInbox{}
	srv := smtp.NewServer(config.SMTPConfig{Domain: "relay.test"}, relayRecipients{}, inbox, nil, zap.NewNop())
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return l.Addr().String(), inbox
}

func TestSender_Send(t *testing.T) {
	addr, inbox := startRelay(t)
	s := NewSender(config.OutboundConfig{RelayAddr: addr, FromName: "Turnierleitung"}, "cup.test", zap.NewNop())

	err := s.Send(context.Background(), &domain.OutgoingMail{
		From:      "team1@cup.test",
		To:        "ref@league.test",
		Subject:   "Re: Spielplan",
		Text:      "Danke",
		MessageID: "<out-1@cup.test>",
		InReplyTo: "<in-1@league.test>",
	})
	require.NoError(t, err)

	received := inbox.received()
	require.Len(t, received, 1)
	got := received[0]
	assert.Equal(t, "ref@league.test", got.To)
	assert.Equal(t, "Re: Spielplan", got.Subject)
	assert.Equal(t, "<out-1@cup.test>", got.MessageID)
	assert.Equal(t, "<in-1@league.test>", got.InReplyTo)
	assert.Contains(t, got.From, "team1@cup.test")
	assert.Contains(t, got.From, "Turnierleitung")
	assert.Contains(t, got.Text, "Danke")
}

func TestSender_Failures(t *testing.T) {
	mail := func() *domain.OutgoingMail {
		return &domain.OutgoingMail{From: "team1@cup.test", To: "nobody@league.test", Subject: "x", Text: "y"}
	}

	t.Run("no relay", func(t *testing.T) {
		err := NewSender(config.OutboundConfig{}, "cup.test", nil).Send(context.Background(), mail())
		assert.ErrorIs(t, err, domain.ErrTransport)
	})

	t.Run("rejected recipient", func(t *testing.T) {
		addr, inbox := startRelay(t)
		err := NewSender(config.OutboundConfig{RelayAddr: addr}, "cup.test", nil).Send(context.Background(), mail())
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.Empty(t, inbox.received())
	})

	t.Run("unreachable", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		l.Close()

		err = NewSender(config.OutboundConfig{RelayAddr: addr}, "cup.test", nil).Send(context.Background(), mail())
		assert.ErrorIs(t, err, domain.ErrTransport)
	})
}

// tlsRelay 只在 STARTTLS 之后接受 MAIL 的最小中继
type tlsRelay struct {
	mu   sync.Mutex
	helo string
	data []byte
}

func (r *tlsRelay) snapshot() (string, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.helo, r.data
}

func (r *tlsRelay) serve(conn net.Conn, cfg *tls.Config) {
	defer conn.Close()
	tc := textproto.NewConn(conn)
	tc.PrintfLine("220 relay.test ESMTP")
	secure := false
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "EHLO":
			if secure {
				r.mu.Lock()
				r.helo = arg
				r.mu.Unlock()
				tc.PrintfLine("250-relay.test")
				tc.PrintfLine("250 8BITMIME")
			} else {
				tc.PrintfLine("250-relay.test")
				tc.PrintfLine("250 STARTTLS")
			}
		case "STARTTLS":
			tc.PrintfLine("220 2.0.0 ready to start TLS")
			tlsConn := tls.Server(conn, cfg)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			tc = textproto.NewConn(tlsConn)
			secure = true
		case "MAIL", "RCPT":
			if !secure {
				tc.PrintfLine("530 5.7.0 must issue STARTTLS first")
				continue
			}
			tc.PrintfLine("250 2.0.0 OK")
		case "DATA":
			tc.PrintfLine("354 go ahead")
			data, err := tc.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.data = data
			r.mu.Unlock()
			tc.PrintfLine("250 2.0.0 queued")
		case "QUIT":
			tc.PrintfLine("221 2.0.0 bye")
			return
		default:
			tc.PrintfLine("502 5.5.2 unknown command")
		}
	}
}

// startTLSRelay 借用 httptest 的自签证书启动 STARTTLS 中继
func startTLSRelay(t *testing.T) (string, *tls.Config, *tlsRelay) {
	t.Helper()
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.StartTLS()
	t.Cleanup(ts.Close)

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	clientCfg := &tls.Config{RootCAs: pool, ServerName: "127.0.0.1", MinVersion: tls.VersionTLS12}
	serverCfg := &tls.Config{Certificates: ts.TLS.Certificates}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	relay := &tlsRelay{}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go relay.serve(conn, serverCfg)
		}
	}()
	return l.Addr().String(), clientCfg, relay
}

func TestSender_StartTLS(t *testing.T) {
	mail := &domain.OutgoingMail{
		From:      "team1@cup.test",
		To:        "ref@league.test",
		Subject:   "Aufstellung",
		Text:      "Anbei die Aufstellung",
		MessageID: "<out-tls@cup.test>",
	}

	t.Run("升级后投递", func(t *testing.T) {
		addr, clientCfg, relay := startTLSRelay(t)
		s := NewSender(config.OutboundConfig{RelayAddr: addr, StartTLS: true}, "cup.test", zap.NewNop())
		s.tlsConfig = clientCfg

		require.NoError(t, s.Send(context.Background(), mail))

		helo, data := relay.snapshot()
		assert.Equal(t, "cup.test", helo)
		assert.Contains(t, string(data), "Subject: Aufstellung")
		assert.Contains(t, string(data), "<out-tls@cup.test>")
	})

	t.Run("未开启时中继拒绝明文", func(t *testing.T) {
		addr, _, relay := startTLSRelay(t)
		err := NewSender(config.OutboundConfig{RelayAddr: addr}, "cup.test", nil).Send(context.Background(), mail)
		assert.ErrorIs(t, err, domain.ErrTransport)
		_, data := relay.snapshot()
		assert.Empty(t, data)
	})

	t.Run("中继不支持 STARTTLS", func(t *testing.T) {
		addr, inbox := startRelay(t)
		err := NewSender(config.OutboundConfig{RelayAddr: addr, StartTLS: true}, "cup.test", nil).Send(context.Background(), mail)
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.Empty(t, inbox.received())
	})

	t.Run("证书不受信任", func(t *testing.T) {
		addr, _, relay := startTLSRelay(t)
		s := NewSender(config.OutboundConfig{RelayAddr: addr, StartTLS: true}, "cup.test", nil)
		err := s.Send(context.Background(), mail)
		assert.ErrorIs(t, err, domain.ErrTransport)
		_, data := relay.snapshot()
		assert.Empty(t, data)
	})
}
