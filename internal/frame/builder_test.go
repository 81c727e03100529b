package frame_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/frame"
)

type fakeChannel struct {
	binary  bool
	written []domain.Frame
}

func (f *fakeChannel) UseBinary() bool   { return f.binary }
func (f *fakeChannel) IsWritable() bool  { return true }
func (f *fakeChannel) Write(fr domain.Frame) error {
	f.written = append(f.written, fr)
	return nil
}

func TestBuilder_Make_JSON(t *testing.T) {
	b := frame.NewBuilder(nil)
	ch := &fakeChannel{}
	fr, err := b.Make(ch, "req-1", domain.StatusSuccess, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", fr.RequestID)
	assert.Equal(t, domain.StatusSuccess, fr.Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fr.Payload, &decoded))
	assert.Equal(t, "req-1", decoded["requestId"])
	assert.Equal(t, string(domain.StatusSuccess), decoded["code"])
}

func TestBuilder_MakeTerminal_NoResult(t *testing.T) {
	b := frame.NewBuilder(nil)
	ch := &fakeChannel{}
	fr, err := b.MakeTerminal(ch, "req-2", domain.StatusNoContent, "")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fr.Payload, &decoded))
	_, hasResult := decoded["result"]
	assert.False(t, hasResult)
}

func TestBuilder_Make_Binary(t *testing.T) {
	b := frame.NewBuilder(nil)
	ch := &fakeChannel{binary: true}
	fr, err := b.Make(ch, "req-3", domain.StatusSuccess, []any{1, 2, 3})
	require.NoError(t, err)
	assert.NotEmpty(t, fr.Payload)
}

func TestBuilder_Make_SerializationFailure_WritesErrorFrameDirectlyAndReturnsErrSerialization(t *testing.T) {
	b := frame.NewBuilder(nil)
	ch := &fakeChannel{}

	_, err := b.Make(ch, "req-5", domain.StatusPartialContent, []any{math.NaN()})
	assert.ErrorIs(t, err, domain.ErrSerialization)

	require.Len(t, ch.written, 1)
	assert.Equal(t, domain.StatusServerErrorSerial, ch.written[0].Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ch.written[0].Payload, &decoded))
	assert.Equal(t, "req-5", decoded["requestId"])
	assert.Equal(t, string(domain.StatusServerErrorSerial), decoded["code"])
}

func TestBuilder_MakeTerminal_WithStatusMessage(t *testing.T) {
	b := frame.NewBuilder(nil)
	ch := &fakeChannel{}
	fr, err := b.MakeTerminal(ch, "req-4", domain.StatusServerErrorScriptEval, "boom")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fr.Payload, &decoded))
	assert.Equal(t, "boom", decoded["statusMessage"])
}
