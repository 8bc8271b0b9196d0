package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceNumber(t *testing.T) {
	p := &Packet{}

	p.SetSequenceNumber(7)
	assert.Equal(t, uint8(7), p.SequenceNumber())
	assert.False(t, p.ResponseExpected())

	p.SetResponseExpected(true)
	assert.True(t, p.ResponseExpected())
	assert.Equal(t, uint8(7), p.SequenceNumber())

	// Sequence numbers are 4 bits wide
	p.SetSequenceNumber(0x1f)
	assert.Equal(t, uint8(0x0f), p.SequenceNumber())
	assert.True(t, p.ResponseExpected())
}

func TestIsCallback(t *testing.T) {
	p := &Packet{UID: 42, FunctionID: 9}
	assert.True(t, p.IsCallback())

	p.SetSequenceNumber(3)
	assert.False(t, p.IsCallback())
}

func TestMarshalUnmarshal(t *testing.T) {
	p := &Packet{
		UID:        0xdeadbeef,
		FunctionID: 17,
		Payload:    []byte{1, 2, 3, 4},
	}
	p.SetSequenceNumber(5)
	p.SetResponseExpected(true)

	data := p.Marshal()
	require.Len(t, data, HeaderLength+4)
	assert.Equal(t, uint8(HeaderLength+4), data[4])

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, p.UID, decoded.UID)
	assert.Equal(t, p.FunctionID, decoded.FunctionID)
	assert.Equal(t, uint8(5), decoded.SequenceNumber())
	assert.True(t, decoded.ResponseExpected())
	assert.Equal(t, p.Payload, decoded.Payload)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	assert.Error(t, err, "short data must be rejected")

	// Header declares a length beyond the maximum
	oversized := make([]byte, HeaderLength)
	oversized[4] = MaxLength + 1
	_, err = Unmarshal(oversized)
	assert.Error(t, err)

	// Header length does not match the actual data size
	mismatch := make([]byte, HeaderLength)
	mismatch[4] = HeaderLength + 8
	_, err = Unmarshal(mismatch)
	assert.Error(t, err)
}

func TestValidateLength(t *testing.T) {
	assert.Error(t, ValidateLength(HeaderLength-1))
	assert.NoError(t, ValidateLength(HeaderLength))
	assert.NoError(t, ValidateLength(MaxLength))
	assert.Error(t, ValidateLength(MaxLength+1))
}

func TestSignatures(t *testing.T) {
	callback := &Packet{UID: 11, FunctionID: 2}
	assert.Equal(t, "U: 11, L: 8, F: 2", callback.CallbackSignature())
	assert.Equal(t, callback.CallbackSignature(), callback.String())

	response := &Packet{UID: 11, FunctionID: 2}
	response.SetSequenceNumber(3)
	assert.Equal(t, "U: 11, L: 8, F: 2, S: 3, E: 0", response.ResponseSignature())
	assert.Equal(t, response.ResponseSignature(), response.String())

	request := &Packet{UID: 11, FunctionID: 2}
	request.SetSequenceNumber(3)
	request.SetResponseExpected(true)
	assert.Equal(t, "U: 11, L: 8, F: 2, S: 3, R: true", request.RequestSignature())
}
