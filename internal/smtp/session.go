package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/mailparse"
)

const (
	maxCommandLine = 2048
	maxDataLine    = 64 * 1024
)

var errLineTooLong = errors.New("line too long")

type recipient struct {
	address string
	alias   *domain.MailboxAlias
}

type session struct {
	srv      *Server
	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	log      *zap.Logger
	state    state
	errCount int

	helo       string
	from       string
	recipients []recipient
}

func newSession(srv *Server, c net.Conn) *session {
	return &session{
		srv:   srv,
		conn:  c,
		r:     bufio.NewReader(c),
		w:     bufio.NewWriter(c),
		log:   srv.log.With(zap.String("remote", c.RemoteAddr().String())),
		state: stateInit,
	}
}

func (s *session) serve() {
	if err := s.reply(220, fmt.Sprintf("%s ESMTP ready", s.srv.cfg.Domain)); err != nil {
		return
	}

	for s.state != stateClosed {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.ReadTimeout)); err != nil {
			s.log.Debug("failed to set read deadline", zap.Error(err))
			return
		}
		line, err := s.readLine(maxCommandLine)
		if errors.Is(err, errLineTooLong) {
			s.protocolError(500, "5.5.6 line too long")
			continue
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.reply(421, fmt.Sprintf("4.4.2 %s idle timeout, closing connection", s.srv.cfg.Domain))
			}
			return
		}
		s.handle(line)
	}
}

// handle 查表决定命令是否合法，成功执行后才迁移状态
func (s *session) handle(line string) {
	verb, arg := parseCommand(line)
	if !knownVerbs[verb] {
		s.protocolError(500, "5.5.2 command not recognized")
		return
	}
	to, ok := next(s.state, verb)
	if !ok {
		s.protocolError(503, "5.5.1 bad sequence of commands")
		return
	}
	if !s.exec(verb, arg) {
		return
	}

	s.errCount = 0
	s.state = to
	if s.state == stateData {
		s.receiveData()
	}
}

// exec 执行命令并写出应答，返回 false 表示命令被拒绝且状态不变
func (s *session) exec(verb, arg string) bool {
	switch verb {
	case "EHLO":
		return s.handleEHLO(arg)
	case "HELO":
		return s.handleHELO(arg)
	case "MAIL":
		return s.handleMAIL(arg)
	case "RCPT":
		return s.handleRCPT(arg)
	case "DATA":
		s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")
		return true
	case "RSET":
		s.resetTransaction()
		s.reply(250, "2.0.0 OK")
		return true
	case "NOOP":
		s.reply(250, "2.0.0 OK")
		return true
	case "QUIT":
		s.reply(221, fmt.Sprintf("2.0.0 %s closing connection", s.srv.cfg.Domain))
		return true
	}
	return false
}

func (s *session) handleEHLO(arg string) bool {
	if strings.TrimSpace(arg) == "" {
		s.protocolError(501, "5.5.4 EHLO requires a hostname")
		return false
	}
	s.helo = strings.TrimSpace(arg)
	s.resetTransaction()
	s.replyMulti(250,
		fmt.Sprintf("%s greets %s", s.srv.cfg.Domain, s.helo),
		"8BITMIME",
		fmt.Sprintf("SIZE %d", s.srv.cfg.MaxMessageBytes),
	)
	return true
}

func (s *session) handleHELO(arg string) bool {
	if strings.TrimSpace(arg) == "" {
		s.protocolError(501, "5.5.4 HELO requires a hostname")
		return false
	}
	s.helo = strings.TrimSpace(arg)
	s.resetTransaction()
	s.reply(250, s.srv.cfg.Domain)
	return true
}

func (s *session) handleMAIL(arg string) bool {
	addr, params, ok := parsePath(arg, "FROM:")
	if !ok {
		s.protocolError(501, "5.5.4 syntax: MAIL FROM:<address>")
		return false
	}
	if size, ok := params["SIZE"]; ok {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			s.protocolError(501, "5.5.4 invalid SIZE parameter")
			return false
		}
		if n > s.srv.cfg.MaxMessageBytes {
			s.reply(552, "5.3.4 message size exceeds fixed limit")
			return false
		}
	}

	s.from = domain.NormalizeAddress(addr)
	s.recipients = nil
	s.reply(250, "2.1.0 sender OK")
	return true
}

func (s *session) handleRCPT(arg string) bool {
	addr, _, ok := parsePath(arg, "TO:")
	if !ok || addr == "" {
		s.protocolError(501, "5.5.4 syntax: RCPT TO:<address>")
		return false
	}
	if len(s.recipients) >= maxRecipients {
		s.reply(452, "4.5.3 too many recipients")
		return false
	}

	address := domain.NormalizeAddress(addr)
	alias, err := s.srv.recipients.Resolve(s.srv.ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRecipient) || errors.Is(err, domain.ErrNotFound) {
			s.srv.metrics.UnknownRecipient(SourceSMTP)
			s.log.Info("rejected unknown recipient", zap.String("to", address))
			s.reply(550, "5.1.1 recipient mailbox not found")
			return false
		}
		s.log.Error("resolve recipient failed", zap.String("to", address), zap.Error(err))
		s.reply(451, "4.3.0 temporary failure, try again later")
		return false
	}

	s.recipients = append(s.recipients, recipient{address: address, alias: alias})
	s.reply(250, "2.1.5 recipient OK")
	return true
}

// receiveData 读取 DATA 正文直到单独一行的 "."，随后回到 GREETED
func (s *session) receiveData() {
	defer func() {
		if s.state != stateClosed {
			s.resetTransaction()
			s.state = stateGreeted
		}
	}()

	var (
		lines  []string
		size   int64
		tooBig bool
	)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.ReadTimeout)); err != nil {
			s.log.Debug("failed to set read deadline", zap.Error(err))
			s.state = stateClosed
			return
		}
		line, err := s.readLine(maxDataLine)
		if errors.Is(err, errLineTooLong) {
			tooBig = true
			continue
		}
		if err != nil {
			s.state = stateClosed
			return
		}
		if line == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		size += int64(len(line)) + 2
		if size > s.srv.cfg.MaxMessageBytes {
			tooBig = true
		}
		if !tooBig {
			lines = append(lines, line)
		}
	}

	if tooBig {
		s.reply(552, "5.3.4 message size exceeds fixed limit")
		return
	}

	raw := strings.Join(lines, "\r\n")
	if len(lines) > 0 {
		raw += "\r\n"
	}
	s.deliver(mailparse.Decode(raw))
}

// deliver 按 RCPT 收件人逐个入库，只要有一个成功即回复 250
func (s *session) deliver(email *domain.InboundEmail) {
	var (
		delivered int
		lastErr   error
	)
	for _, rcpt := range s.recipients {
		msg := *email
		msg.To = rcpt.address
		if msg.From == "" {
			msg.From = s.from
		}

		res, err := s.srv.ingester.Ingest(s.srv.ctx, SourceSMTP, &msg)
		if err != nil {
			lastErr = err
			s.log.Warn("ingest failed", zap.String("to", rcpt.address), zap.Error(err))
			continue
		}
		delivered++
		s.log.Info("message accepted",
			zap.String("to", rcpt.address),
			zap.String("conversation_id", res.ConversationID),
			zap.Bool("duplicate", res.Duplicate),
		)
	}

	switch {
	case delivered > 0:
		s.reply(250, "2.0.0 message accepted")
	case errors.Is(lastErr, domain.ErrValidation):
		s.reply(554, "5.6.0 message rejected: "+lastErr.Error())
	default:
		s.reply(451, "4.3.0 message not stored, try again later")
	}
}

func (s *session) resetTransaction() {
	s.from = ""
	s.recipients = nil
}

// protocolError 回复错误并计数，连续达到上限时断开连接
func (s *session) protocolError(code int, msg string) {
	s.srv.metrics.ProtocolError(code)
	s.errCount++
	s.reply(code, msg)
	if s.errCount >= s.srv.cfg.MaxErrors {
		s.log.Warn("too many protocol errors, closing connection", zap.Int("errors", s.errCount), zap.Stringer("state", s.state))
		s.reply(421, fmt.Sprintf("4.7.0 %s too many errors, closing connection", s.srv.cfg.Domain))
		s.state = stateClosed
	}
}

func (s *session) reply(code int, text string) error {
	fmt.Fprintf(s.w, "%d %s\r\n", code, text)
	return s.w.Flush()
}

func (s *session) replyMulti(code int, lines ...string) error {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		fmt.Fprintf(s.w, "%d%s%s\r\n", code, sep, line)
	}
	return s.w.Flush()
}

// readLine 读取一行，兼容 CRLF 与 LF，超长时丢弃整行并返回 errLineTooLong
func (s *session) readLine(limit int) (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := s.r.ReadLine()
		if err != nil {
			return "", err
		}
		if len(buf)+len(chunk) > limit {
			tooLong = true
		} else if !tooLong {
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", errLineTooLong
	}
	return string(buf), nil
}

// parseCommand 拆分命令动词与参数
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

// parsePath 解析 "FROM:<addr> KEY=VALUE" 形式的参数，允许冒号后有空格与省略尖括号
func parsePath(arg, prefix string) (string, map[string]string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", nil, false
	}
	rest := strings.TrimSpace(arg[len(prefix):])

	var addr, tail string
	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", nil, false
		}
		addr, tail = rest[1:end], rest[end+1:]
	} else {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return "", nil, false
		}
		addr, tail = fields[0], strings.TrimPrefix(rest, fields[0])
	}

	params := make(map[string]string)
	for _, field := range strings.Fields(tail) {
		key, value, _ := strings.Cut(field, "=")
		params[strings.ToUpper(key)] = value
	}
	return strings.TrimSpace(addr), params, true
}
