package imap

import (
	"crypto/tls"
	"log/slog"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/firefart/dmarcingest/internal/config"
)

// NewLogger adapts logger to the imap.Logger interface used by the client
// for protocol errors.
func NewLogger(logger *slog.Logger) imap.Logger {
	return slog.NewLogLogger(logger.Handler(), slog.LevelError)
}

func Connect(conf config.IMAPConfig, logger *slog.Logger) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}
	if conf.SSL {
		c, err := client.DialTLS(conf.Host, &tlsConfig)
		if err != nil {
			return nil, err
		}
		c.Timeout = conf.Timeout.Duration
		c.ErrorLog = NewLogger(logger)
		return c, nil
	}
	c, err := client.Dial(conf.Host)
	if err != nil {
		return nil, err
	}
	c.ErrorLog = NewLogger(logger)
	c.Timeout = conf.Timeout.Duration
	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func HasImapFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

func MarkMessageAsDeleted(c *client.Client, msgUID uint32) error {
	seq := new(imap.SeqSet)
	seq.AddNum(msgUID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []any{imap.DeletedFlag}
	return c.UidStore(seq, item, flags, nil)
}

// batch returns the sequence set for the first batchSize ids and whether
// ids remain after it.
func batch(ids []uint32, batchSize int) (*imap.SeqSet, bool) {
	seqset := new(imap.SeqSet)
	if batchSize >= len(ids) {
		seqset.AddNum(ids...)
		return seqset, false
	}
	seqset.AddNum(ids[:batchSize]...)
	return seqset, true
}
