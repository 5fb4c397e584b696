package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix for decision requests.
const DefaultSubjectPrefix = "taskloop.hitl"

// NATSSource asks a remote responder for decisions with NATS request/reply
// on <prefix>.<breakpoint>.
type NATSSource struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSource creates a NATS-backed decision source.
func NewNATSSource(nc *nats.Conn, prefix string) *NATSSource {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSource{nc: nc, prefix: prefix}
}

// Subject returns the request subject for a breakpoint type.
func Subject(prefix, breakpoint string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + breakpoint
}

// Prompt publishes req and waits for a reply. No responders counts as a
// timeout, so the breakpoint default applies.
func (n *NATSSource) Prompt(ctx context.Context, req Request) (Decision, error) {
	data, err := EncodeRequest(req)
	if err != nil {
		return Decision{}, err
	}
	msg, err := n.nc.RequestWithContext(ctx, Subject(n.prefix, req.Breakpoint), data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrTimeout),
			errors.Is(err, nats.ErrNoResponders),
			errors.Is(err, context.DeadlineExceeded):
			return Decision{}, ErrTimeout
		}
		return Decision{}, fmt.Errorf("nats request: %w", err)
	}
	d, err := DecodeDecision(msg.Data)
	if err != nil {
		return Decision{}, err
	}
	if d.RequestID == "" {
		d.RequestID = req.ID
	}
	return d, nil
}

// Serve answers decision requests under prefix with handler until the
// returned subscription is drained or unsubscribed.
func Serve(nc *nats.Conn, prefix string, handler func(Request) Decision) (*nats.Subscription, error) {
	return nc.Subscribe(Subject(prefix, "*"), func(m *nats.Msg) {
		req, err := DecodeRequest(m.Data)
		if err != nil {
			return
		}
		d := handler(req)
		d.RequestID = req.ID
		data, err := json.Marshal(d)
		if err != nil {
			return
		}
		_ = m.Respond(data)
	})
}

// EncodeRequest serializes a request for the wire.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a wire request.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// DecodeDecision parses and checks a wire decision.
func DecodeDecision(data []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if !d.Action.Valid() {
		return Decision{}, fmt.Errorf("decode decision: unknown action %q", d.Action)
	}
	return d, nil
}
