package mailbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
)

// imapSession adapts one go-imap connection to the Session interface.
type imapSession struct {
	client *imapclient.Client
}

// DialIMAP returns a DialFunc that opens TLS sessions against the
// configured mailbox and selects its folder. go-imap v1 has no context
// support; the dial timeout bounds connection setup instead.
func DialIMAP(cfg config.MailboxConfig) DialFunc {
	return func(ctx context.Context) (Session, error) {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

		dialer := &net.Dialer{Timeout: 30 * time.Second}
		c, err := imapclient.DialWithDialerTLS(dialer, addr, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to dial %s", addr)
		}

		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			c.Logout()
			return nil, errors.Wrap(err, "mailbox login failed")
		}

		folder := cfg.Folder
		if folder == "" {
			folder = "INBOX"
		}
		if _, err := c.Select(folder, false); err != nil {
			c.Logout()
			return nil, errors.Wrapf(err, "failed to select folder %q", folder)
		}

		return &imapSession{client: c}, nil
	}
}

func (s *imapSession) Search(ctx context.Context, token string, since time.Time) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("To", token)
	if !since.IsZero() {
		// SINCE is date-granular; the exact cutoff is enforced below
		criteria.Since = since.Truncate(24 * time.Hour)
	}

	ids, err := s.client.Search(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "mailbox search failed")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, ch)
	}()

	var msgs []Message
	for m := range ch {
		msg := Message{ID: m.SeqNum, Arrived: m.InternalDate}
		if m.Envelope != nil {
			msg.Subject = m.Envelope.Subject
			recipients := make([]string, 0, len(m.Envelope.To))
			for _, addr := range m.Envelope.To {
				recipients = append(recipients, addr.Address())
			}
			msg.To = strings.Join(recipients, ", ")
		}
		if body := m.GetBody(section); body != nil {
			if data, err := io.ReadAll(body); err == nil {
				msg.Body = string(data)
			}
		}
		if !since.IsZero() && msg.Arrived.Before(since) {
			continue
		}
		msgs = append(msgs, msg)
	}

	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "mailbox fetch failed")
	}
	return msgs, nil
}

func (s *imapSession) Delete(ctx context.Context, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.Store(seqset, item, flags, nil); err != nil {
		return errors.Wrap(err, "failed to flag messages deleted")
	}
	if err := s.client.Expunge(nil); err != nil {
		return errors.Wrap(err, "expunge failed")
	}
	return nil
}

func (s *imapSession) Close() error {
	return s.client.Logout()
}
