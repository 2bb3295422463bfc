package outbound

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"tourney/backend/internal/domain"
)

// Compose 把待发邮件编码为 RFC 5322 原文。
// 只有纯文本时生成单段正文，同时有 HTML 时生成 multipart/alternative。
func Compose(m *domain.OutgoingMail, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	if id := trimID(m.MessageID); id != "" {
		h.SetMessageID(id)
	}
	if id := trimID(m.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		refs := make([]string, 0, len(m.References)+1)
		for _, r := range m.References {
			if r = trimID(r); r != "" && r != id {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("References", append(refs, id))
	}
	for k, v := range m.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	if m.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		if _, err := io.WriteString(w, m.Text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	parts := []struct{ contentType, body string }{
		{"text/plain", m.Text},
		{"text/html", m.HTML},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		ph.Set("Content-Transfer-Encoding", "quoted-printable")
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
