package raftpb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req := ChronosRequest{
		Kind:    KindInsert,
		ID:      uuid.New(),
		Vector:  []float32{1, 2, 3},
		Payload: []byte("hello"),
		Ts:      42,
	}

	data, err := req.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, req, got)
}
