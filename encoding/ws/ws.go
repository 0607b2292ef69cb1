// Package ws broadcasts the progress of a run to websocket clients as JSON.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorgonia/seqdecoder"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{} // use default options

// Progress is the message sent on every evaluation.
type Progress struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Cycle     int     `json:"cycle"`
	Cycles    int     `json:"cycles"`
	Step      int     `json:"step"`
	TrainLoss float32 `json:"train_loss"`
	EvalLoss  float32 `json:"eval_loss"`
}

// ProgressOf summarizes rs.
func ProgressOf(rs seqdecoder.RunState) Progress {
	retVal := Progress{
		Name:   rs.Name(),
		State:  rs.State().String(),
		Cycle:  rs.Cycle(),
		Cycles: rs.Cycles(),
		Step:   rs.Step(),
	}
	h := rs.History()
	if n := h.Len(); n > 0 {
		retVal.TrainLoss = h.TrainLoss[n-1]
		retVal.EvalLoss = h.EvalLoss[n-1]
	}
	return retVal
}

// Encoder is an http.Handler upgrading every request to a websocket that
// receives one Progress message per Encode. Slow clients miss messages; a run
// never waits on a client.
type Encoder struct {
	log logrus.FieldLogger

	sync.Mutex
	clients map[chan []byte]struct{}
}

// NewEncoder returns an encoder with no clients.
func NewEncoder(log logrus.FieldLogger) *Encoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Encoder{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

func (enc *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		enc.log.WithError(err).Warn("upgrade")
		return
	}
	defer c.Close()

	ch := make(chan []byte, 16)
	enc.Lock()
	enc.clients[ch] = struct{}{}
	enc.Unlock()
	defer func() {
		enc.Lock()
		delete(enc.clients, ch)
		enc.Unlock()
	}()

	// the read loop notices the client going away and answers its control
	// frames. Messages from clients are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			if err = c.WriteMessage(websocket.TextMessage, b); err != nil {
				enc.log.WithError(err).Debug("write")
				return
			}
		case <-gone:
			enc.log.Debug("client gone")
			return
		}
	}
}

// Clients is the number of connected clients.
func (enc *Encoder) Clients() int {
	enc.Lock()
	defer enc.Unlock()
	return len(enc.clients)
}

// Encode a run
func (enc *Encoder) Encode(rs seqdecoder.RunState) error {
	b, err := json.Marshal(ProgressOf(rs))
	if err != nil {
		return errors.WithStack(err)
	}
	enc.Lock()
	defer enc.Unlock()
	for ch := range enc.clients {
		select {
		case ch <- b:
		default:
		}
	}
	return nil
}

// Flush closes the connection of every client.
func (enc *Encoder) Flush() error {
	enc.Lock()
	defer enc.Unlock()
	for ch := range enc.clients {
		close(ch)
		delete(enc.clients, ch)
	}
	return nil
}
