package feedsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type WsPushChannelSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultWsPushChannelSettings() *WsPushChannelSettings {
	return &WsPushChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
	}
}

// wire frames. the client sends subscribe/unsubscribe, the platform
// answers with a subscribed ack and then a stream of change frames.
type wsClientFrame struct {
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

type wsFeedFrame struct {
	Subscribed string          `json:"subscribed,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Operation  ChangeOperation `json:"operation,omitempty"`
	NewRecord  json.RawMessage `json:"new_record,omitempty"`
	OldRecord  json.RawMessage `json:"old_record,omitempty"`
}

// a push channel over a websocket to the platform subscribe endpoint.
//
// the channel does not reconnect. a transport failure is reported to
// `onError` once and the subscription is dead; whether and when to
// reopen is the caller's policy.
type WsPushChannel[R Record] struct {
	ctx    context.Context
	cancel context.CancelFunc

	subscribeUrl string
	jwt          string

	settings *WsPushChannelSettings
}

func NewWsPushChannelWithDefaults[R Record](ctx context.Context, subscribeUrl string, jwt string) *WsPushChannel[R] {
	return NewWsPushChannel[R](ctx, subscribeUrl, jwt, DefaultWsPushChannelSettings())
}

func NewWsPushChannel[R Record](
	ctx context.Context,
	subscribeUrl string,
	jwt string,
	settings *WsPushChannelSettings,
) *WsPushChannel[R] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsPushChannel[R]{
		ctx:          cancelCtx,
		cancel:       cancel,
		subscribeUrl: subscribeUrl,
		jwt:          jwt,
		settings:     settings,
	}
}

func (self *WsPushChannel[R]) Subscribe(
	topic string,
	onEvent func(event ChangeEvent[R]),
	onSubscribed func(),
	onError func(err error),
) (func(), error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	header := http.Header{}
	if self.jwt != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", self.jwt))
	}

	ws, _, err := dialer.DialContext(self.ctx, self.subscribeUrl, header)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	// the connection allows one concurrent writer. the ping loop and
	// the unsubscribe frame share it, so all writes are serialized.
	var writeLock sync.Mutex

	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteJSON(&wsClientFrame{Subscribe: topic}); err != nil {
		return nil, err
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)

	// ping writer
	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				writeLock.Lock()
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				err := ws.WriteMessage(websocket.PingMessage, make([]byte, 0))
				writeLock.Unlock()
				if err != nil {
					// a websocket deadline timeout cannot be recovered
					return
				}
			}
		}
	}()

	// read loop. one goroutine per channel, so events reach `onEvent`
	// in arrival order with no batching.
	go func() {
		defer func() {
			handleCancel()
			ws.Close()
		}()

		for {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			var frame wsFeedFrame
			if err := ws.ReadJSON(&frame); err != nil {
				select {
				case <-handleCtx.Done():
					// closed by unsubscribe, not an error
				default:
					glog.Infof("[ws]%s read error = %s\n", topic, err)
					onError(err)
				}
				return
			}

			if frame.Subscribed != "" {
				glog.V(2).Infof("[ws]%s subscribed\n", topic)
				onSubscribed()
				continue
			}
			if frame.Topic != "" && frame.Topic != topic {
				continue
			}

			event, err := decodeChangeEvent[R](&frame)
			if err != nil {
				glog.Infof("[ws]%s bad frame = %s\n", topic, err)
				continue
			}
			onEvent(event)
		}
	}()

	unsubscribe := func() {
		handleCancel()
		writeLock.Lock()
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		// best effort. the platform also drops the topic on close.
		ws.WriteJSON(&wsClientFrame{Unsubscribe: topic})
		writeLock.Unlock()
		ws.Close()
	}

	success = true
	return unsubscribe, nil
}

// releases the dialer. open subscriptions are closed via their
// unsubscribe functions or the shared ctx.
func (self *WsPushChannel[R]) Close() {
	self.cancel()
}

func decodeChangeEvent[R Record](frame *wsFeedFrame) (ChangeEvent[R], error) {
	event := ChangeEvent[R]{
		Operation: frame.Operation,
	}
	switch frame.Operation {
	case ChangeOperationInsert, ChangeOperationUpdate, ChangeOperationDelete:
	default:
		return event, fmt.Errorf("unknown operation %s", frame.Operation)
	}
	if frame.NewRecord != nil {
		var record R
		if err := json.Unmarshal(frame.NewRecord, &record); err != nil {
			return event, err
		}
		event.NewRecord = &record
	}
	if frame.OldRecord != nil {
		var record R
		if err := json.Unmarshal(frame.OldRecord, &record); err != nil {
			return event, err
		}
		event.OldRecord = &record
	}
	return event, nil
}
