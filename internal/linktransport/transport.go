package linktransport

import (
	"bufio"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Transport drives one Session's fragmented request/response protocol: MTU
// negotiation, outbound fragmenting with adaptive chunking serialized
// through a transmission mutex, and inbound reassembly dispatched to a
// Dispatcher. One Transport exists per connected configuration-link client.
type Transport struct {
	session Session
	mtu     *mtuNegotiator
	log     *zap.Logger

	// txMu serializes outgoing fragments so two concurrent Send calls never
	// interleave their chunks on the wire (spec.md §4.4 "transmission
	// mutex").
	txMu       sync.Mutex
	activeTx   int32
	reassemble reassembler

	dispatcher Dispatcher

	closeOnce sync.Once
	done      chan struct{}
}

// NewTransport wraps session with the fragmented protocol. dispatcher
// receives each fully reassembled inbound message.
func NewTransport(session Session, dispatcher Dispatcher) *Transport {
	return &Transport{
		session:    session,
		mtu:        newMTUNegotiator(),
		dispatcher: dispatcher,
		log:        zap.NewNop(),
		done:       make(chan struct{}),
	}
}

// WithLogger attaches a structured logger.
func (t *Transport) WithLogger(log *zap.Logger) *Transport {
	t.log = log
	return t
}

// Negotiate runs the MTU negotiation state machine against the peer's
// announced MTU (or 0 if the peer never announces one, in which case the
// negotiator exhausts its retries and falls back to the safe MTU).
func (t *Transport) Negotiate(peerMTU int) int {
	t.mtu.Start()
	t.mtu.Requested()
	if peerMTU <= 0 {
		for t.mtu.Timeout() {
			t.mtu.Requested()
		}
		t.log.Warn("mtu negotiation fell back", zap.Int("mtu", t.mtu.MTU()))
		return t.mtu.MTU()
	}
	return t.mtu.Accept(peerMTU)
}

// ActiveTransmissions reports the number of Send calls currently fragmenting
// output (diagnostics/tests).
func (t *Transport) ActiveTransmissions() int32 {
	return atomic.LoadInt32(&t.activeTx)
}

// Send fragments payload per the negotiated MTU and adaptive chunking rule,
// writing each fragment to the session with the prescribed inter-fragment
// delay. Only one Send runs at a time per Transport.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	atomic.AddInt32(&t.activeTx, 1)
	defer atomic.AddInt32(&t.activeTx, -1)

	mtu := t.mtu.MTU()
	chunkSize, delay := chunkPlan(len(payload), mtu)
	fragments := fragment(payload, chunkSize)

	for i, f := range fragments {
		if _, err := t.session.Write(f); err != nil {
			return err
		}
		if i < len(fragments)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// RunInbound reads newline-terminated fragments off the session until it
// closes or ctx is cancelled, handing each reassembled message to the
// dispatcher. Grounded on the teacher's websocket hub readPump loop.
func (t *Transport) RunInbound(ctx context.Context) error {
	defer close(t.done)
	br := bufio.NewReaderSize(sessionReader{t.session}, defaultChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		chunk, err := readAvailable(br)
		if err != nil {
			return err
		}
		msg, complete, ferr := t.reassemble.Feed(chunk)
		if ferr != nil {
			t.log.Warn("inbound message dropped", zap.Error(ferr))
			continue
		}
		if complete {
			t.dispatcher.Dispatch(ctx, msg, func(resp []byte) error {
				return t.Send(ctx, resp)
			})
		}
	}
}

// Close releases the underlying session.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.session.Close()
	})
	return err
}

// Done signals once RunInbound has returned.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// sessionReader adapts Session to io.Reader for bufio.
type sessionReader struct {
	s Session
}

func (r sessionReader) Read(p []byte) (int, error) {
	return r.s.Read(p)
}

// readAvailable reads whatever bytes the session has ready, up to the
// reader's buffer size, returning them as one fragment.
func readAvailable(br *bufio.Reader) ([]byte, error) {
	b, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	buf := []byte{b}
	for br.Buffered() > 0 {
		nb, err := br.ReadByte()
		if err != nil {
			break
		}
		buf = append(buf, nb)
	}
	return buf, nil
}
