package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/aicentral/gateway/internal/tokenestimate"
)

// StreamingTokensTrailer is the HTTP trailer carrying the final streaming
// token estimate (spec §4.2 step 7, §6).
const StreamingTokensTrailer = "X-Aicentral-Streaming-Tokens"

const chunkQueueDepth = 8

// streamTee forwards an upstream SSE/chunked body to the caller chunk for
// chunk while incrementally estimating completion tokens from
// choices[*].delta.content frames, exactly as spec §4.2 step 7/§9 describes:
// a reader that both forwards bytes and feeds a bounded channel to an
// estimator task. Forwarding can run at most chunkQueueDepth chunks ahead of
// the estimator; once that channel is full, the next send blocks forwarding
// until the estimator catches up.
type streamTee struct {
	estimator  *tokenestimate.Estimator
	modelName  string
	chunks     chan []byte
	done       chan struct{}
	total      atomic.Int64 // sum of per-chunk estimates emitted
	finalUsage struct {
		promptTokens int
	}
}

func newStreamTee(estimator *tokenestimate.Estimator, modelName string) *streamTee {
	t := &streamTee{
		estimator: estimator,
		modelName: modelName,
		chunks:    make(chan []byte, chunkQueueDepth),
		done:      make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *streamTee) run() {
	defer close(t.done)
	var buf bytes.Buffer
	for chunk := range t.chunks {
		buf.Write(chunk)
		t.drainEvents(&buf, false)
	}
	t.drainEvents(&buf, true)
}

func (t *streamTee) drainEvents(buf *bytes.Buffer, flush bool) {
	for {
		data := buf.Bytes()
		idx := bytes.Index(data, []byte("\n\n"))
		var event []byte
		if idx >= 0 {
			event = data[:idx]
			buf.Next(idx + 2)
		} else if flush && buf.Len() > 0 {
			event = bytes.TrimSpace(data)
			buf.Reset()
		} else {
			return
		}
		t.consumeEvent(event)
		if idx < 0 {
			return
		}
	}
}

func (t *streamTee) consumeEvent(event []byte) {
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		payload := bytes.TrimPrefix(line, []byte("data:"))
		if len(payload) == len(line) {
			continue // no "data:" prefix
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		t.consumeDataPayload(payload)
	}
}

// sseChatChunk covers the OpenAI/Azure streaming chat-completion delta
// shape; unknown fields are ignored by encoding/json.
type sseChatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (t *streamTee) consumeDataPayload(payload []byte) {
	var chunk sseChatChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return
	}
	for _, c := range chunk.Choices {
		if c.Delta.Content == "" {
			continue
		}
		t.total.Add(int64(t.estimator.Estimate(t.modelName, c.Delta.Content)))
	}
	if chunk.Usage != nil && chunk.Usage.CompletionTokens > 0 {
		// An exact usage object arrived mid/end-of-stream (some providers
		// send this on the final chunk): prefer it over our running estimate.
		t.total.Store(int64(chunk.Usage.CompletionTokens))
	}
}

// Estimate returns the current running completion-token estimate. Safe to
// call while chunks are still being fed through t.chunks.
func (t *streamTee) Estimate() int {
	return int(t.total.Load())
}

// Finish closes the chunk channel and blocks until the estimator has
// drained any buffered partial event, returning the final estimate — the
// "completion channel the pipeline awaits" of spec §4.2 step 7.
func (t *streamTee) Finish() int {
	close(t.chunks)
	<-t.done
	return t.Estimate()
}

// copyStreaming copies src to dst chunk by chunk, flushing after each
// write, while feeding every chunk to the tee for estimation. It never
// buffers beyond the tee's bounded channel (spec §4.2 step 8).
func copyStreaming(ctx context.Context, dst http.ResponseWriter, src io.Reader, tee *streamTee) error {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if _, writeErr := dst.Write(chunk); writeErr != nil {
				log.Debug().Err(writeErr).Msg("endpoint: client disconnected mid-stream")
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}

			select {
			case tee.chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
