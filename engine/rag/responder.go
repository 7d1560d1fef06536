package rag

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/parentchild/pkg/natsutil"
)

// RetrieveSubject carries Request messages.
const RetrieveSubject = "parentchild.retrieve"

// Request is the message body on RetrieveSubject.
type Request struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Reply answers a Request.
type Reply struct {
	Hits  []Hit  `json:"hits"`
	Error string `json:"error,omitempty"`
}

// ResponderOptions configures StartResponder.
type ResponderOptions struct {
	// Subject defaults to RetrieveSubject.
	Subject string
	// Queue, when set, load-balances requests across responders.
	Queue string
	// Timeout bounds one retrieval. Zero means ten seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// StartResponder answers retrieval requests over NATS request/reply.
func (r *Retriever) StartResponder(nc *nats.Conn, opts ResponderOptions) (*nats.Subscription, error) {
	if opts.Subject == "" {
		opts.Subject = RetrieveSubject
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = r.logger
	}

	handle := func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn("rag: malformed request", "subject", msg.Subject, "error", err)
			respond(log, msg, Reply{Error: err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(natsutil.ContextFrom(msg), opts.Timeout)
		defer cancel()

		hits, err := r.RetrieveWithScores(ctx, req.Query, req.TopK)
		if err != nil {
			log.Error("rag: retrieve failed", "error", err)
			respond(log, msg, Reply{Error: err.Error()})
			return
		}
		if hits == nil {
			hits = []Hit{}
		}
		respond(log, msg, Reply{Hits: hits})
	}
	if opts.Queue != "" {
		return nc.QueueSubscribe(opts.Subject, opts.Queue, handle)
	}
	return nc.Subscribe(opts.Subject, handle)
}

func respond(log *slog.Logger, msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	if err := natsutil.Respond(msg, r); err != nil {
		log.Warn("rag: reply failed", "error", err)
	}
}
