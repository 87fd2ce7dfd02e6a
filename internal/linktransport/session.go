// Package linktransport implements the configuration link of spec.md §4.4:
// a fragmented duplex request/response channel between the gateway and a
// short-range wireless client, with MTU negotiation, adaptive chunking,
// a transmission mutex and back-pressure. The concrete binding is a
// gofiber/websocket/v2 connection, grounded on the teacher's
// internal/websocket/hub.go register/unregister/broadcast hub and the
// newline-terminated read loop of pkg/nodes/network/tcp_client.go.
package linktransport

import "context"

// Session is the capability set spec.md §9 calls out for the wireless vs.
// Ethernet "Client" variant type: a duplex byte stream with no assumption
// about the underlying transport.
type Session interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// terminator marks the end of one reassembled inbound message (spec.md
// §4.4 "Inbound reassembly").
const terminator = '\n'

const (
	// defaultMaxMTU is the MTU the transport requests on connect.
	defaultMaxMTU = 517
	// acceptedMaxMTU is the highest MTU the gateway will actually use even
	// if a larger one is granted.
	acceptedMaxMTU = 512
	// safeFallbackMTU is used once negotiation exhausts its retries.
	safeFallbackMTU = 100

	defaultChunkSize   = 244
	fragmentDelay      = 10 // ms
	adaptiveThreshold  = 5 * 1024
	adaptiveChunkSize  = 100
	adaptiveFragDelay  = 20 // ms

	// maxResponseSizeBytes is spec.md §4.4 "Back-pressure"/§8's boundary
	// property: exactly 200000 must succeed, 200001 must fail.
	maxResponseSizeBytes = 200_000

	negotiationTimeoutSeconds = 5
	negotiationMaxRetries     = 2
)

// Dispatcher is what the Command Handler implements to receive completed
// inbound messages from the transport (spec.md §4.4/§4.5). reply lets the
// handler send its response (or a later streaming notification) back over
// the same session without needing a reference to the Transport itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, message []byte, reply func([]byte) error)
}
