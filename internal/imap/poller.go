package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	"github.com/firefart/dmarcingest/internal/config"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/firefart/dmarcingest/internal/pipeline"
	"github.com/firefart/dmarcingest/internal/store"
	"github.com/hashicorp/go-multierror"
)

var errNoBody = errors.New("server didn't return message body")

// MessageProcessor ingests a single raw email.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, r io.Reader) (*pipeline.MessageResult, error)
}

type Poller struct {
	config    config.IMAPConfig
	batchSize int
	processor MessageProcessor
	logger    *slog.Logger
	devMode   bool
}

func NewPoller(conf config.IMAPConfig, batchSize int, processor MessageProcessor, devMode bool, logger *slog.Logger) *Poller {
	return &Poller{
		config:    conf,
		batchSize: batchSize,
		processor: processor,
		logger:    logger.With("component", "imap"),
		devMode:   devMode,
	}
}

// Run polls the folder immediately and then once per interval until ctx is
// cancelled. Errors of a single run are logged and do not stop the loop.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	// used to start the ticker immediately
	// otherwise it first runs after the first
	// period
	p.logger.Info("starting first run")
	if err := p.Poll(ctx); err != nil {
		p.logger.Error("imap run failed", "error", err)
	}
	p.logger.Info("first run finished")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context done")
			return nil
		case <-ticker.C:
			p.logger.Info("starting new run")
			if err := p.Poll(ctx); err != nil {
				p.logger.Error("imap run failed", "error", err)
			}
			p.logger.Info("run finished")
		}
	}
}

// Poll processes all messages in the folder. It runs in batches as some IMAP
// servers have pretty short timeouts and the imap library does not handle
// reconnects.
func (p *Poller) Poll(ctx context.Context) error {
	var result *multierror.Error
	hasMore := true
	for hasMore {
		p.logger.Debug("starting new imap loop", "batch_size", p.batchSize)
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		var err error
		var msgErrs *multierror.Error
		hasMore, msgErrs, err = p.fetch(ctx)
		if msgErrs != nil {
			result = multierror.Append(result, msgErrs.Errors...)
		}
		if err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
	}
	return result.ErrorOrNil()
}

// fetch processes one batch. msgErrs collects per message failures, err is
// set when the batch itself could not be handled.
func (p *Poller) fetch(ctx context.Context) (hasMore bool, msgErrs *multierror.Error, err error) {
	c, err := Connect(p.config, p.logger)
	if err != nil {
		return false, nil, fmt.Errorf("could not connect to %s: %w", p.config.Host, err)
	}

	p.logger.Debug("connected to imap server")

	// also log IMAP messages in debug mode
	if p.logger.Enabled(ctx, slog.LevelDebug) {
		c.SetDebug(slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug).Writer())
	}

	if err := c.Login(p.config.User, p.config.Pass); err != nil {
		return false, nil, fmt.Errorf("could not login: %w", err)
	}

	p.logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			p.logger.Error("error on logout", "error", err)
		}
	}()

	hasFolder, err := HasImapFolder(c, p.config.Folder)
	if err != nil {
		return false, nil, fmt.Errorf("could not check if folder %s exists: %w", p.config.Folder, err)
	}
	if !hasFolder {
		return false, nil, fmt.Errorf("imap folder %s not found in account", p.config.Folder)
	}

	mbox, err := c.Select(p.config.Folder, false)
	if err != nil {
		return false, nil, fmt.Errorf("could not select folder %s: %w", p.config.Folder, err)
	}

	p.logger.Info("opened folder", "folder", mbox.Name, "messages", mbox.Messages, "unseen", mbox.Unseen)

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return false, nil, fmt.Errorf("could not search for mails: %w", err)
	}

	p.logger.Debug("found mails without the DELETED flag", "count", len(ids))

	if len(ids) == 0 {
		return false, nil, nil
	}

	seqset, hasMore := batch(ids, p.batchSize)

	p.logger.Debug("fetching messages", "seqset", seqset.String())

	messages := make(chan *imap.Message)
	done := make(chan error, 1)

	// Get the whole message body
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		section.FetchItem(),
		imap.FetchEnvelope,
		imap.FetchUid,
	}
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var errs *multierror.Error
	toDelete := make(map[uint32]string)
	kept := 0
	for msg := range messages {
		// drain the channel so the fetch can finish, skipped mails stay in
		// the folder
		if ctx.Err() != nil {
			kept++
			continue
		}
		metrics.MessagesFetched.Inc()
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		logger := p.logger.With("uid", msg.Uid, "subject", subject)
		logger.Info("processing email")
		err := p.processMessage(ctx, msg, section)
		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrNoAttachments):
			logger.Info("message does not seem to be a valid dmarc report")
		default:
			logger.Error("could not process message", "error", err)
			errs = multierror.Append(errs, fmt.Errorf("message %d: %w", msg.Uid, err))
		}
		if keepMessage(ctx, err) {
			logger.Warn("keeping message for the next run")
			kept++
			continue
		}
		// reports and junk that can never be stored are deleted
		toDelete[msg.Uid] = subject
	}

	p.logger.Debug("waiting for fetch to finish")

	if err := <-done; err != nil {
		return false, errs, fmt.Errorf("error on fetch: %w", err)
	}

	if !p.devMode {
		for uid, subject := range toDelete {
			p.logger.Info("marking message as deleted", "uid", uid, "subject", subject)
			if err := MarkMessageAsDeleted(c, uid); err != nil {
				p.logger.Error("could not set delete flag", "uid", uid, "error", err)
				continue
			}
		}

		p.logger.Info("running expunge command (delete all marked messages)")
		if err := c.Expunge(nil); err != nil {
			return false, errs, fmt.Errorf("could not expunge: %w", err)
		}
	} else {
		// nothing gets deleted so the next batch would fetch the same mails
		hasMore = false
	}

	if kept > 0 {
		// kept mails are returned by the next search again, retry them on
		// the next run instead of looping on them now
		p.logger.Info("messages kept in folder", "count", kept)
		hasMore = false
	}

	p.logger.Info("processed emails", "deleted", len(toDelete), "kept", kept)

	return hasMore, errs, nil
}

// keepMessage reports whether a message that failed with err has to stay in
// the folder. Storage failures and cancellation are transient, everything
// else is a problem with the message itself and will not go away.
func keepMessage(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var allFailed *store.AllInsertsFailedError
	if errors.As(err, &allFailed) {
		return true
	}
	return errors.Is(err, errNoBody)
}

func (p *Poller) processMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) error {
	r := msg.GetBody(section)
	if r == nil {
		return errNoBody
	}
	p.logger.Debug("body length", "uid", msg.Uid, "length", r.Len())
	res, err := p.processor.ProcessMessage(ctx, r)
	if err != nil {
		return err
	}
	if res.Report != nil && res.Report.Outcome != nil {
		p.logger.Info("report stored",
			"uid", msg.Uid,
			"report_id", res.Report.ReportID,
			"succeeded", res.Report.Outcome.Succeeded,
			"failed", res.Report.Outcome.Failed,
		)
	}
	return nil
}
