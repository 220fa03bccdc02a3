package orderstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"go.uber.org/zap"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/sse"
	"github.com/five82/platter/internal/syncerr"
)

// Kind is the type of a stream message.
type Kind string

const (
	// KindOpened is synthesized once the connection is established.
	KindOpened       Kind = "opened"
	KindInitial      Kind = "initial"
	KindConnected    Kind = "connected"
	KindStatusUpdate Kind = "statusUpdate"
	KindError        Kind = "error"
)

// Message is a decoded stream payload.
type Message struct {
	Kind          Kind
	Order         *api.Order         // KindInitial
	Status        api.OrderStatus    // KindStatusUpdate
	StatusHistory []api.StatusChange // KindStatusUpdate
	UpdatedAt     string             // KindStatusUpdate
	Text          string             // KindConnected, KindError
}

// Opener opens the raw event stream of one order.
type Opener interface {
	OpenOrderStream(ctx context.Context, orderID string) (io.ReadCloser, error)
}

var _ Opener = (*api.Client)(nil)

type wireMessage struct {
	Type          string             `json:"type"`
	Order         *api.Order         `json:"order"`
	Message       string             `json:"message"`
	Status        api.OrderStatus    `json:"status"`
	StatusHistory []api.StatusChange `json:"statusHistory"`
	UpdatedAt     string             `json:"updatedAt"`
}

var errUnknownType = errors.New("unknown message type")

func decode(data string) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return Message{}, syncerr.Parse("orderstream.decode", err)
	}
	switch Kind(w.Type) {
	case KindInitial:
		if w.Order == nil {
			return Message{}, syncerr.Parse("orderstream.decode", errors.New("initial message without order"))
		}
		return Message{Kind: KindInitial, Order: w.Order}, nil
	case KindConnected:
		return Message{Kind: KindConnected, Text: w.Message}, nil
	case KindStatusUpdate:
		if w.Status == "" {
			return Message{}, syncerr.Parse("orderstream.decode", errors.New("status update without status"))
		}
		return Message{
			Kind:          KindStatusUpdate,
			Status:        w.Status,
			StatusHistory: w.StatusHistory,
			UpdatedAt:     w.UpdatedAt,
		}, nil
	case KindError:
		return Message{Kind: KindError, Text: w.Message}, nil
	default:
		return Message{}, syncerr.Parse("orderstream.decode", fmt.Errorf("%w %q", errUnknownType, w.Type))
	}
}

// Subscribe opens one connection for orderID and yields its messages. The
// first message is KindOpened. Malformed or unknown payloads are logged and
// skipped. The sequence ends with a transient error when the connection
// fails or the server closes it, and with ctx.Err() when ctx is cancelled.
// It never reconnects.
func Subscribe(ctx context.Context, opener Opener, orderID string, logger *zap.Logger) iter.Seq2[Message, error] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(yield func(Message, error) bool) {
		body, err := opener.OpenOrderStream(ctx, orderID)
		if err != nil {
			yield(Message{}, err)
			return
		}
		defer body.Close()
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()

		if !yield(Message{Kind: KindOpened}, nil) {
			return
		}
		for ev, err := range sse.Events(body) {
			if err != nil {
				if ctx.Err() != nil {
					yield(Message{}, ctx.Err())
					return
				}
				yield(Message{}, syncerr.Transient("orderstream.read", err))
				return
			}
			msg, err := decode(ev.Data)
			if err != nil {
				logger.Debug("dropping stream payload", zap.String("order_id", orderID), zap.Error(err))
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
		if ctx.Err() != nil {
			yield(Message{}, ctx.Err())
			return
		}
		yield(Message{}, syncerr.Transient("orderstream.read", syncerr.ErrConnectionLost))
	}
}
