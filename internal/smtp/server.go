// Package smtp 实现只收信的 SMTP 监听器。
//
// 每个连接在独立的 goroutine 中运行一个显式状态机（见 fsm.go），
// DATA 结束后把原文交给 mailparse 解码，再按 RCPT 收件人逐个入库。
// 不支持 STARTTLS 与 AUTH。
package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/monitoring"
)

// SourceSMTP 是经监听器入库邮件的来源标识。
const SourceSMTP = "smtp"

const (
	defaultMaxErrors       = 3
	defaultReadTimeout     = 5 * time.Minute
	defaultMaxMessageBytes = 10 * 1024 * 1024
	maxRecipients          = 100
)

// ErrServerClosed 由 Serve 在 Close 之后返回。
var ErrServerClosed = errors.New("smtp: server closed")

// Recipients 在 RCPT 阶段解析收件地址。
type Recipients interface {
	Resolve(ctx context.Context, address string) (*domain.MailboxAlias, error)
}

// Ingester 是入库入口，监听器与 webhook 共用。
type Ingester interface {
	Ingest(ctx context.Context, source string, email *domain.InboundEmail) (*domain.IngestResult, error)
}

// Server SMTP 监听器
type Server struct {
	cfg        config.SMTPConfig
	recipients Recipients
	ingester   Ingester
	metrics    *monitoring.Metrics
	log        *zap.Logger
	limiter    *ConnectionLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewServer 创建监听器，未配置的限制项使用默认值
func NewServer(cfg config.SMTPConfig, recipients Recipients, ingester Ingester, metrics *monitoring.Metrics, log *zap.Logger) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		recipients: recipients,
		ingester:   ingester,
		metrics:    metrics,
		log:        log.Named("smtp"),
		limiter:    NewConnectionLimiter(cfg.MaxConnections, cfg.MaxConnRate),
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe 监听配置的地址并阻塞处理连接
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.BindAddr, err)
	}
	return s.Serve(l)
}

// Serve 在给定的 listener 上接受连接，直到 Close 被调用
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	s.log.Info("SMTP listener started", zap.String("addr", l.Addr().String()))

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}

		if !s.limiter.Acquire() {
			s.metrics.ConnectionRejected()
			go s.reject(conn)
			continue
		}

		if !s.track(conn) {
			s.limiter.Release()
			conn.Close()
			return ErrServerClosed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.limiter.Release()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close 停止接受新连接并关闭所有存活连接
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var firstErr error
	for l := range s.listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("SMTP listener stopped")
	return firstErr
}

// ActiveConnections 返回当前存活连接数
func (s *Server) ActiveConnections() int {
	return s.limiter.Current()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// reject 对超出限流的连接直接回复 421
func (s *Server) reject(c net.Conn) {
	defer c.Close()
	c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(c, "421 4.7.0 %s too many connections, try again later\r\n", s.cfg.Domain)
}

func (s *Server) handleConn(c net.Conn) {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer c.Close()

	remote := c.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.log.Error("SMTP session panicked", zap.String("remote", remote), zap.Any("panic", r))
		}
	}()

	sess := newSession(s, c)
	sess.serve()
}
