package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/errors"
)

func roundTrip[T ID](t *testing.T, parse Parser[T], id T) {
	t.Helper()
	parsed, err := parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.True(t, parsed == id)
}

func TestSequence(t *testing.T) {
	a, err := NewSequence()
	require.NoError(t, err)
	b, err := NewSequence()
	require.NoError(t, err)

	assert.Greater(t, b.Int64(), a.Int64(), "生成值单调递增")
	roundTrip(t, ParseSequence, a)
	roundTrip(t, ParseSequence, SequenceOf(-42))

	assert.Equal(t, "1001", SequenceOf(1001).String())
	assert.Equal(t, SequenceOf(7), SequenceOf(7))
	assert.NotEqual(t, SequenceOf(7), SequenceOf(8))

	_, err = ParseSequence("12a")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestToken(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, tok.String(), 21)
	roundTrip(t, ParseToken, tok)
	roundTrip(t, ParseToken, TokenOf("order #7 / ü"))

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	_, err = ParseToken("")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestUUID(t *testing.T) {
	id := NewUUID()
	assert.Equal(t, uuid.Version(4), id.UUID().Version())
	roundTrip(t, ParseUUID, id)

	fixed := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", UUIDOf(fixed).String())

	for _, bad := range []string{"", "not-a-uuid", "0f8fad5bd9cb469fa16570867728950e", "{0f8fad5b-d9cb-469f-a165-70867728950e}"} {
		_, err := ParseUUID(bad)
		assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput), bad)
	}
}

func TestKindsAreDistinct(t *testing.T) {
	// 不同类型的标识即使文本相同也不可比较为相等
	var a, b any = SequenceOf(1), TokenOf("1")
	assert.NotEqual(t, a, b)
	assert.Equal(t, SequenceOf(1).String(), TokenOf("1").String())
}
