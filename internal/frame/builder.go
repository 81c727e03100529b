// Package frame implements the Frame Builder (C1): it serializes a batch
// of result objects into a framed response, choosing a binary or text
// encoding per the channel's UseBinary attribute.
package frame

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/graphscript/evalserver/internal/domain"
)

// wireResponse is the shape both serializers encode: requestId, code, and
// the batch as the result field (spec §4.5).
type wireResponse struct {
	RequestID     string         `json:"requestId" cbor:"requestId"`
	Code          domain.StatusCode `json:"code" cbor:"code"`
	StatusMessage string         `json:"statusMessage,omitempty" cbor:"statusMessage,omitempty"`
	Result        []any          `json:"result,omitempty" cbor:"result,omitempty"`
}

// Builder is the Frame Builder. It holds no state; a single instance is
// reused across requests.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder constructs a Builder that logs serialization failures with logger.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Make serializes aggregate into a Frame for channel, under requestID and
// code. On serialization failure it logs a warning, constructs a
// SERVER_ERROR_SERIALIZATION response, submits it to channel directly, and
// returns a wrapped domain.ErrSerialization so the Result Streamer can abort
// its loop (spec §4.5). The Builder, not its caller, owns this terminal
// write: every caller that sees a wrapped domain.ErrSerialization back from
// Make or MakeTerminal must not write a second frame for the same request.
func (b *Builder) Make(channel domain.Channel, requestID string, code domain.StatusCode, aggregate []any) (domain.Frame, error) {
	resp := wireResponse{RequestID: requestID, Code: code, Result: aggregate}

	var payload []byte
	var err error
	if channel.UseBinary() {
		payload, err = cbor.Marshal(resp)
	} else {
		payload, err = json.Marshal(resp)
	}
	if err != nil {
		return domain.Frame{}, b.writeSerializationFailure(channel, requestID, "frame serialization failed", err)
	}

	return domain.Frame{RequestID: requestID, Code: code, Payload: payload}, nil
}

// MakeTerminal serializes a terminal response carrying no result payload
// (used for the empty-iterator NO_CONTENT fast path and for error
// responses that carry only a status message). On serialization failure it
// writes the SERVER_ERROR_SERIALIZATION frame itself, the same as Make.
func (b *Builder) MakeTerminal(channel domain.Channel, requestID string, code domain.StatusCode, statusMessage string) (domain.Frame, error) {
	resp := wireResponse{RequestID: requestID, Code: code, StatusMessage: statusMessage}

	var payload []byte
	var err error
	if channel.UseBinary() {
		payload, err = cbor.Marshal(resp)
	} else {
		payload, err = json.Marshal(resp)
	}
	if err != nil {
		return domain.Frame{}, b.writeSerializationFailure(channel, requestID, "terminal frame serialization failed", err)
	}
	return domain.Frame{RequestID: requestID, Code: code, Payload: payload}, nil
}

// writeSerializationFailure logs the marshal error, writes a
// SERVER_ERROR_SERIALIZATION frame directly to channel, and returns the
// wrapped domain.ErrSerialization the caller should propagate without
// writing any further frame for this request.
func (b *Builder) writeSerializationFailure(channel domain.Channel, requestID, logMsg string, cause error) error {
	b.logger.Warn(logMsg, slog.String("request_id", requestID), slog.Any("error", cause))

	wrapped := fmt.Errorf("%w: %s", domain.ErrSerialization, cause.Error())
	errResp := wireResponse{
		RequestID:     requestID,
		Code:          domain.StatusServerErrorSerial,
		StatusMessage: wrapped.Error(),
	}
	errPayload, marshalErr := json.Marshal(errResp)
	if marshalErr == nil {
		_ = channel.Write(domain.Frame{
			RequestID: requestID,
			Code:      domain.StatusServerErrorSerial,
			Payload:   errPayload,
		})
	}
	return wrapped
}
