package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	msgmail "github.com/emersion/go-message/mail"
	"golang.org/x/sync/errgroup"

	"github.com/scottrax/ai-agent-system/internal/session"
)

const resetCommand = "reset"

// Advancer runs one turn loop for a user message.
type Advancer interface {
	Advance(ctx context.Context, s *session.Session, userMessage string) (string, error)
}

// Replier delivers the answer back to the sender.
type Replier interface {
	Reply(ctx context.Context, to, subject, body string) error
}

// Options bounds the poll loop.
type Options struct {
	Address      string
	Password     string
	IMAPHost     string
	IMAPPort     int
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 30 * time.Second
	}
}

// inboundMessage is one fetched mail reduced to what the agent needs.
type inboundMessage struct {
	sender    string
	subject   string
	messageID string
	body      string
}

// Poller polls the inbox and routes each authorized message through the
// engine. One session per sender address; unauthorized mail is left marked
// seen without a reply.
type Poller struct {
	opts     Options
	registry *session.Registry
	engine   Advancer
	replier  Replier
	allow    *AllowList
	logger   *slog.Logger

	mu           sync.Mutex
	handled      map[string]struct{}
	handledOrder []string
}

// handledLimit bounds the dedupe set. The \Seen flag already keeps fetched
// mail out of later polls; the set only has to cover a few poll cycles of
// overlap, not the daemon's lifetime.
const handledLimit = 512

// NewPoller builds a poller. The allow list may be updated concurrently.
func NewPoller(opts Options, registry *session.Registry, eng Advancer, replier Replier, allow *AllowList, logger *slog.Logger) *Poller {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		opts:     opts,
		registry: registry,
		engine:   eng,
		replier:  replier,
		allow:    allow,
		logger:   logger,
		handled:  make(map[string]struct{}),
	}
}

// Run polls until the context is cancelled. Poll failures back off and retry;
// the loop never exits on its own.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("inbox poller started",
		slog.String("address", p.opts.Address),
		slog.Duration("interval", p.opts.PollInterval),
		slog.Int("authorized_senders", p.allow.Len()),
	)

	for {
		wait := p.opts.PollInterval
		if err := p.pollOnce(ctx); err != nil {
			p.logger.Warn("inbox poll failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", p.opts.ErrorBackoff),
			)
			wait = p.opts.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	messages, err := p.fetchUnseen()
	if err != nil {
		return err
	}
	return p.process(ctx, messages)
}

// process filters and routes one batch of fetched messages, grouped by
// sender. Fetching the body already set \Seen, so dropping an unauthorized
// or duplicate message needs no further mutation and no reply.
func (p *Poller) process(ctx context.Context, messages []inboundMessage) error {
	if len(messages) == 0 {
		return nil
	}

	bySender := make(map[string][]inboundMessage)
	for _, m := range messages {
		if p.alreadyHandled(m.messageID) {
			continue
		}
		if !p.allow.Allowed(m.sender) {
			p.logger.Info("ignoring mail from unauthorized sender",
				slog.String("sender", m.sender),
			)
			continue
		}
		bySender[m.sender] = append(bySender[m.sender], m)
	}

	// Senders advance concurrently; messages of one sender stay in order
	// because they share a session.
	g, gctx := errgroup.WithContext(ctx)
	for sender, msgs := range bySender {
		g.Go(func() error {
			for _, m := range msgs {
				p.handle(gctx, sender, m)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) fetchUnseen() ([]inboundMessage, error) {
	addr := fmt.Sprintf("%s:%d", p.opts.IMAPHost, p.opts.IMAPPort)
	c, err := imapclient.DialTLS(addr, &tls.Config{ServerName: p.opts.IMAPHost})
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(p.opts.Address, p.opts.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, ch)
	}()

	var out []inboundMessage
	for msg := range ch {
		if m, ok := p.decode(msg, section); ok {
			out = append(out, m)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}
	return out, nil
}

func (p *Poller) decode(msg *imap.Message, section *imap.BodySectionName) (inboundMessage, bool) {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return inboundMessage{}, false
	}

	m := inboundMessage{
		sender:    NormalizeAddress(msg.Envelope.From[0].Address()),
		subject:   msg.Envelope.Subject,
		messageID: msg.Envelope.MessageId,
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return inboundMessage{}, false
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		p.logger.Warn("reading mail body failed", slog.String("error", err.Error()))
		return inboundMessage{}, false
	}
	m.body = extractText(raw)
	return m, true
}

// extractText returns the first inline text/plain part, falling back to the
// raw bytes when the message cannot be parsed as MIME.
func extractText(raw []byte) string {
	mr, err := msgmail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if h, ok := part.Header.(*msgmail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			if ct == "" || strings.HasPrefix(ct, "text/plain") {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					continue
				}
				return strings.TrimSpace(string(body))
			}
		}
	}
	return ""
}

func (p *Poller) alreadyHandled(messageID string) bool {
	if messageID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handled[messageID]; ok {
		return true
	}
	p.handled[messageID] = struct{}{}
	p.handledOrder = append(p.handledOrder, messageID)
	if len(p.handledOrder) > handledLimit {
		oldest := p.handledOrder[0]
		p.handledOrder = p.handledOrder[1:]
		delete(p.handled, oldest)
	}
	return false
}

// handle advances the sender's session with one message and replies with the
// answer. Errors become apologetic replies rather than dropped mail.
func (p *Poller) handle(ctx context.Context, sender string, m inboundMessage) {
	logger := p.logger.With(
		slog.String("sender", sender),
		slog.String("message_id", m.messageID),
	)

	if strings.EqualFold(strings.TrimSpace(m.body), resetCommand) {
		sess := p.registry.GetOrCreate(session.ChannelInbox, sender)
		p.registry.Reset(sess)
		p.reply(ctx, logger, sender, m.subject, "Session reset.")
		return
	}

	if strings.TrimSpace(m.body) == "" {
		logger.Info("ignoring mail with empty body")
		return
	}

	sess := p.registry.GetOrCreate(session.ChannelInbox, sender)
	answer, err := p.engine.Advance(ctx, sess, m.body)
	if err != nil {
		logger.Warn("turn loop failed for inbound mail", slog.String("error", err.Error()))
		answer = "Sorry, I could not process your message. Please try again later."
	}
	p.reply(ctx, logger, sender, m.subject, answer)
}

func (p *Poller) reply(ctx context.Context, logger *slog.Logger, to, subject, body string) {
	if err := p.replier.Reply(ctx, to, subject, body); err != nil {
		logger.Warn("reply delivery failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("reply sent")
}
