package linktransport

import (
	"bytes"
	"fmt"
	"time"
)

// chunkPlan picks the fragment size and inter-fragment delay for a payload,
// per spec.md §4.4 "Adaptive chunking": large payloads fragment smaller and
// slower so they don't starve concurrent traffic on the link.
func chunkPlan(payloadLen, mtu int) (chunkSize int, delay time.Duration) {
	chunkSize = defaultChunkSize
	delay = fragmentDelay * time.Millisecond
	if payloadLen >= adaptiveThreshold {
		chunkSize = adaptiveChunkSize
		delay = adaptiveFragDelay * time.Millisecond
	}
	if mtu > 0 && chunkSize > mtu {
		chunkSize = mtu
	}
	return chunkSize, delay
}

// fragment splits payload into chunkSize-sized pieces, appending the
// terminator byte to the final piece so the peer's reassembler can detect
// the end of the message.
func fragment(payload []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	var out [][]byte
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	last := out[len(out)-1]
	withTerm := make([]byte, len(last)+1)
	copy(withTerm, last)
	withTerm[len(last)] = terminator
	out[len(out)-1] = withTerm
	return out
}

// ErrResponseOversize is returned when an assembled inbound message exceeds
// maxResponseSizeBytes (spec.md §4.4 "Back-pressure"/§8 boundary property).
var ErrResponseOversize = fmt.Errorf("linktransport: message exceeds %d bytes (LINK_FRAG_OVERSIZE)", maxResponseSizeBytes)

// reassembler accumulates inbound fragments until it sees the terminator
// byte, enforcing the back-pressure cap along the way.
type reassembler struct {
	buf bytes.Buffer
}

// Feed appends a fragment. It returns the completed message (terminator
// stripped) and true once a full message has been seen, or an error if the
// accumulated size exceeds the cap before termination.
func (r *reassembler) Feed(fragment []byte) ([]byte, bool, error) {
	if r.buf.Len()+len(fragment) > maxResponseSizeBytes+1 {
		r.buf.Reset()
		return nil, false, ErrResponseOversize
	}
	r.buf.Write(fragment)
	if idx := bytes.IndexByte(r.buf.Bytes(), terminator); idx >= 0 {
		full := r.buf.Bytes()
		if idx > maxResponseSizeBytes {
			r.buf.Reset()
			return nil, false, ErrResponseOversize
		}
		msg := make([]byte, idx)
		copy(msg, full[:idx])
		remainder := append([]byte(nil), full[idx+1:]...)
		r.buf.Reset()
		r.buf.Write(remainder)
		return msg, true, nil
	}
	return nil, false, nil
}
