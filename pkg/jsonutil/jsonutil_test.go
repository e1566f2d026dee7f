package jsonutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID      string   `json:"id"`
	Dataset string   `json:"dataset"`
	Length  int64    `json:"length"`
	Split   *string  `json:"split,omitempty"`
	Success *float64 `json:"success,omitempty"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	split := "train"
	in := testRecord{
		ID:      "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Dataset: "kitchen_v2",
		Length:  412,
		Split:   &split,
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out testRecord
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestMarshalOmitsUnsetOptionals(t *testing.T) {
	data, err := Marshal(testRecord{ID: "a-1", Dataset: "lab"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "split")
	assert.NotContains(t, string(data), "success")
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(testRecord{ID: "a-1", Dataset: "lab"}, "", "  ")
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n  \"id\": \"a-1\"")
}

func TestMarshalToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MarshalToWriter(&buf, testRecord{ID: "a-1", Dataset: "lab"}))

	var out testRecord
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "a-1", out.ID)
}

func TestStreamingEncoderLines(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, false)

	require.NoError(t, enc.Encode(testRecord{ID: "a-1", Dataset: "kitchen"}))
	require.NoError(t, enc.Encode(testRecord{ID: "a-2", Dataset: "kitchen"}))
	require.NoError(t, enc.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second testRecord
	require.NoError(t, Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "a-1", first.ID)
	assert.Equal(t, "a-2", second.ID)
}

func TestStreamingEncoderArray(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, true)

	require.NoError(t, enc.Encode(testRecord{ID: "a-1", Dataset: "kitchen"}))
	require.NoError(t, enc.Encode(testRecord{ID: "a-2", Dataset: "kitchen"}))
	require.NoError(t, enc.Close())

	var out []testRecord
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "a-1", out[0].ID)
	assert.Equal(t, "a-2", out[1].ID)
}

func TestStreamingEncoderEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, true)
	require.NoError(t, enc.Close())

	var out []testRecord
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	assert.Empty(t, out)
}

func TestBufferPoolReuse(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)

	again := GetBuffer()
	defer PutBuffer(again)
	assert.Zero(t, again.Len())
}
