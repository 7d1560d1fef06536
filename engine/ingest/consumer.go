package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/pkg/natsutil"
)

const (
	// IngestSubject carries IngestRequest messages.
	IngestSubject = "parentchild.ingest"
	// DLQSubject receives requests that kept failing.
	DLQSubject = "parentchild.ingest.dlq"
	// RetryHeader counts how often a request was redelivered.
	RetryHeader = "X-Retry-Count"
	// MaxRetries before a request goes to the DLQ.
	MaxRetries = 3
)

// IngestRequest is the message body on IngestSubject.
type IngestRequest struct {
	Documents   []domain.Document `json:"documents"`
	Mode        string            `json:"mode,omitempty"`
	SaveParents bool              `json:"save_parents,omitempty"`
}

// IngestReply is sent back when the request carries a reply subject.
type IngestReply struct {
	Report Report `json:"report"`
	Error  string `json:"error,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request IngestRequest `json:"request"`
	Error   string        `json:"error"`
	Retries int           `json:"retries"`
}

// ConsumerOptions configures StartConsumer.
type ConsumerOptions struct {
	// Subject defaults to IngestSubject.
	Subject string
	// DLQ defaults to DLQSubject.
	DLQ string
	// Queue, when set, spreads requests across the workers of the group.
	Queue      string
	MaxRetries int
	// Timeout bounds a single Add call. Zero means two minutes.
	Timeout time.Duration
	Logger  *slog.Logger
}

// StartConsumer subscribes the Indexer to ingest requests. A request whose
// Add fails, or produces no vectors at all, is republished with an
// incremented retry header until MaxRetries, then sent to the DLQ. Invalid
// requests go to the DLQ directly.
func (ix *Indexer) StartConsumer(nc *nats.Conn, opts ConsumerOptions) (*nats.Subscription, error) {
	if opts.Subject == "" {
		opts.Subject = IngestSubject
	}
	if opts.DLQ == "" {
		opts.DLQ = DLQSubject
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = ix.log
	}

	handler := func(msg *nats.Msg) {
		var req IngestRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("ingest: unmarshal failed", "subject", msg.Subject, "error", err)
			reply(log, msg, IngestReply{Error: err.Error()})
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(RetryHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		ctx, cancel := context.WithTimeout(natsutil.ContextFrom(msg), opts.Timeout)
		defer cancel()

		rep, err := ix.handle(ctx, req)
		if err == nil {
			err = rep.Err()
		}
		if err == nil {
			log.Info("ingest: request done", "documents", len(req.Documents), "indexed", rep.Indexed)
			reply(log, msg, IngestReply{Report: rep})
			return
		}

		retries++
		log.Error("ingest: request failed", "documents", len(req.Documents), "retry", retries, "error", err)
		if retries >= opts.MaxRetries || !retryable(err) {
			data, _ := json.Marshal(dlqMessage{Request: req, Error: err.Error(), Retries: retries})
			if perr := nc.PublishMsg(natsutil.NewMsg(ctx, opts.DLQ, data)); perr != nil {
				log.Error("ingest: DLQ publish failed", "error", perr)
			}
		} else {
			retryMsg := natsutil.NewMsg(ctx, opts.Subject, msg.Data)
			retryMsg.Header.Set(RetryHeader, strconv.Itoa(retries))
			if perr := nc.PublishMsg(retryMsg); perr != nil {
				log.Error("ingest: retry publish failed", "error", perr)
			}
		}
		reply(log, msg, IngestReply{Report: rep, Error: err.Error()})
	}
	if opts.Queue != "" {
		return nc.QueueSubscribe(opts.Subject, opts.Queue, handler)
	}
	return nc.Subscribe(opts.Subject, handler)
}

func (ix *Indexer) handle(ctx context.Context, req IngestRequest) (Report, error) {
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return Report{}, err
	}
	return ix.AddMode(ctx, mode, req.Documents, AddOptions{SaveParents: req.SaveParents})
}

// retryable rejects errors a redelivery cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrInvalidDocument) && !errors.Is(err, domain.ErrInvalidConfig)
}

func reply(log *slog.Logger, msg *nats.Msg, r IngestReply) {
	if msg.Reply == "" {
		return
	}
	if err := natsutil.Respond(msg, r); err != nil {
		log.Warn("ingest: reply failed", "error", err)
	}
}
