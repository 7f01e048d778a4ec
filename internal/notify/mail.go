package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/rs/zerolog"

	"comfyclient/internal/jobclient"
)

const mailTimeout = 5 * time.Second

// mailSender is the part of *mailersend.EmailService the notifier uses.
type mailSender interface {
	NewMessage() *mailersend.Message
	Send(ctx context.Context, message *mailersend.Message) (*mailersend.Response, error)
}

// MailOptions configures a MailNotifier.
type MailOptions struct {
	APIKey    string
	FromName  string
	FromEmail string
	To        []string
}

// MailNotifier e-mails the recipients when a job delivers its final image.
// Other events are ignored.
type MailNotifier struct {
	sender mailSender
	opts   MailOptions
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewMailNotifier(opts MailOptions, log zerolog.Logger) (*MailNotifier, error) {
	if opts.APIKey == "" || opts.FromEmail == "" || len(opts.To) == 0 {
		return nil, errors.New("notify: mail needs api key, sender and at least one recipient")
	}
	ms := mailersend.NewMailersend(opts.APIKey)
	return newMailNotifier(ms.Email, opts, log), nil
}

func newMailNotifier(sender mailSender, opts MailOptions, log zerolog.Logger) *MailNotifier {
	if opts.FromName == "" {
		opts.FromName = "comfyclient"
	}
	return &MailNotifier{sender: sender, opts: opts, log: log}
}

func (n *MailNotifier) Publish(e jobclient.Event) {
	if e.Name != jobclient.EventJobFinal {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(e); err != nil {
			n.log.Error().Err(err).Uint64("job_id", e.JobID).Msg("send job mail")
		}
	}()
}

func (n *MailNotifier) send(e jobclient.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()

	loc, _ := e.Fields["location"].(string)
	subject := fmt.Sprintf("Job %d finished", e.JobID)
	text := fmt.Sprintf("Job %d finished. Final image: %s", e.JobID, loc)
	html := fmt.Sprintf("<h1>Job %d finished</h1><p>Final image: %s</p>", e.JobID, loc)

	recipients := make([]mailersend.Recipient, 0, len(n.opts.To))
	for _, to := range n.opts.To {
		recipients = append(recipients, mailersend.Recipient{Email: to})
	}
	message := n.sender.NewMessage()
	message.SetFrom(mailersend.From{Name: n.opts.FromName, Email: n.opts.FromEmail})
	message.SetRecipients(recipients)
	message.SetSubject(subject)
	message.SetHTML(html)
	message.SetText(text)

	_, err := n.sender.Send(ctx, message)
	return err
}

// Wait blocks until in-flight mails are sent.
func (n *MailNotifier) Wait() { n.wg.Wait() }
