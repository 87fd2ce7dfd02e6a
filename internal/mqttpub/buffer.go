package mqttpub

import (
	"bytes"
	"encoding/json"
)

// Dynamic buffer sizing constants of spec.md §4.6: optimal outbound buffer
// = min(max_buffer, max(min_buffer, register_count × 120 + overhead)).
const (
	minBufferBytes      = 512
	maxBufferBytes       = 64 * 1024
	perRegisterBytes     = 120
	bufferOverheadBytes  = 256
)

func outboundBufferSize(registerCount int) int {
	want := registerCount*perRegisterBytes + bufferOverheadBytes
	if want < minBufferBytes {
		want = minBufferBytes
	}
	if want > maxBufferBytes {
		want = maxBufferBytes
	}
	return want
}

// encodeBatch serializes batch into a buffer pre-sized by
// outboundBufferSize so large batches avoid repeated reallocation.
func encodeBatch(batch Batch) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, outboundBufferSize(len(batch.Points))))
	if err := json.NewEncoder(buf).Encode(batch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
