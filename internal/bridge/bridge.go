// Package bridge 提供 HTTP→SMTP 测试桥：像真实客户端一样驱动本地监听器，
// 返回服务端的完整应答记录。仅用于联调验证，不用于生产投递。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
)

const defaultTimeout = 10 * time.Second

var (
	// ErrTimeout 整个会话超过配置的等待时间。
	ErrTimeout = errors.New("bridge: timed out waiting for listener")
	// ErrUnexpectedReply 服务端返回了非预期的状态码。
	ErrUnexpectedReply = errors.New("bridge: unexpected reply")
)

// Request 是一次测试投递。
type Request struct {
	From    string `json:"from"`
	To      string `json:"to" binding:"required"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Result 是测试投递的结果，Transcript 按顺序记录服务端每一行应答。
type Result struct {
	Success    bool          `json:"success"`
	Transcript []string      `json:"transcript"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Client 测试桥客户端
type Client struct {
	addr     string
	heloName string
	timeout  time.Duration
	log      *zap.Logger
}

// New 创建测试桥。addr 为监听器地址，省略主机时连接本机。
func New(cfg config.BridgeConfig, addr, heloName string, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if heloName == "" {
		heloName = "localhost"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		addr:     dialAddr(addr),
		heloName: heloName,
		timeout:  timeout,
		log:      log.Named("bridge"),
	}
}

// step 是一条命令及其期望的状态码
type step struct {
	command string
	expect  []int
}

// Send 依次发送 EHLO、MAIL、RCPT、DATA、正文与 QUIT，每步等到期望的应答再继续。
// 出错时返回已收集的部分记录。
func (c *Client) Send(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.To) == "" {
		return nil, domain.Errorf(domain.ErrValidation, "missing recipient")
	}
	from := req.From
	if from == "" {
		from = "bridge@" + c.heloName
	}
	subject := req.Subject
	if subject == "" {
		subject = "SMTP bridge test"
	}

	start := time.Now()
	result := &Result{Transcript: []string{}}
	err := c.run(ctx, result, from, req.To, subject, req.Body)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		c.log.Warn("bridge session failed", zap.String("to", req.To), zap.Error(err))
		return result, err
	}
	result.Success = true
	c.log.Info("bridge session completed", zap.String("to", req.To), zap.Duration("duration", result.Duration))
	return result, nil
}

func (c *Client) run(ctx context.Context, result *Result, from, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}
		return domain.Errorf(domain.ErrTransport, "dial %s: %v", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// 调用方提前取消时打断阻塞中的读写
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	tc := textproto.NewConn(conn)
	steps := []step{
		{"", []int{220}},
		{"EHLO " + c.heloName, []int{250}},
		{"MAIL FROM:<" + domain.NormalizeAddress(from) + ">", []int{250}},
		{"RCPT TO:<" + domain.NormalizeAddress(to) + ">", []int{250}},
		{"DATA", []int{354}},
	}
	for _, s := range steps {
		if s.command != "" {
			if err := tc.PrintfLine("%s", s.command); err != nil {
				return c.wrap(ctx, err)
			}
		}
		if err := c.expect(ctx, tc, result, s.expect...); err != nil {
			return err
		}
	}

	w := tc.DotWriter()
	fmt.Fprintf(w, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)
	if err := w.Close(); err != nil {
		return c.wrap(ctx, err)
	}
	if err := c.expect(ctx, tc, result, 250); err != nil {
		return err
	}

	if err := tc.PrintfLine("QUIT"); err != nil {
		return c.wrap(ctx, err)
	}
	return c.expect(ctx, tc, result, 221, 250)
}

// expect 读取一条完整应答（含 "250-" 续行），全部记入 transcript
func (c *Client) expect(ctx context.Context, tc *textproto.Conn, result *Result, codes ...int) error {
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return c.wrap(ctx, err)
		}
		result.Transcript = append(result.Transcript, line)
		if len(line) < 3 {
			return fmt.Errorf("%w: malformed reply %q", ErrUnexpectedReply, line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return fmt.Errorf("%w: malformed reply %q", ErrUnexpectedReply, line)
		}
		if len(line) > 3 && line[3] == '-' {
			continue
		}
		for _, want := range codes {
			if code == want {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, line)
	}
}

func (c *Client) wrap(ctx context.Context, err error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrTimeout
	}
	return domain.Errorf(domain.ErrTransport, "%v", err)
}

// dialAddr 把 ":2525" 这类只含端口的监听地址转为可拨号的本机地址
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
