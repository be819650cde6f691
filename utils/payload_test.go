package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type borrowArgs struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func TestEncodeDecodeCall(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payload, err := EncodeCall("borrow", borrowArgs{From: user, To: user, Amount: big.NewInt(7)})
	require.NoError(t, err)

	env, err := DecodeCall(payload)
	require.NoError(t, err)
	assert.Equal(t, "borrow", env.Method)

	var args borrowArgs
	require.NoError(t, env.Bind(&args))
	assert.Equal(t, int64(7), args.Amount.Int64())

	from, ok, err := env.From()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, user, from)
}

func TestDecodeCall_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "not json", payload: []byte("0x1234")},
		{name: "missing method", payload: []byte(`{"args":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCall(tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestBind_RejectsUnknownFields(t *testing.T) {
	env, err := DecodeCall([]byte(`{"method":"borrow","args":{"amount":1,"extractFromSender":true}}`))
	require.NoError(t, err)

	var args borrowArgs
	assert.Error(t, env.Bind(&args))
}

func TestEnvelope_FromAbsent(t *testing.T) {
	payload, err := EncodeCall("accrue", nil)
	require.NoError(t, err)

	env, err := DecodeCall(payload)
	require.NoError(t, err)
	_, ok, err := env.From()
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, env.Bind(&borrowArgs{}))
}

func TestEnvelope_FromSpelling(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    bool
		wantErr bool
	}{
		{name: "canonical", args: `{"from":"0x00000000000000000000000000000000000000a1"}`, want: true},
		{name: "capitalised", args: `{"From":"0x00000000000000000000000000000000000000a1"}`, wantErr: true},
		{name: "upper case", args: `{"FROM":"0x00000000000000000000000000000000000000a1"}`, wantErr: true},
		{
			name:    "canonical shadowed by later spelling",
			args:    `{"from":"0x00000000000000000000000000000000000000b2","fRoM":"0x00000000000000000000000000000000000000a1"}`,
			wantErr: true,
		},
		{name: "other field", args: `{"fromAsset":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeCall([]byte(`{"method":"transfer","args":` + tt.args + `}`))
			require.NoError(t, err)

			_, ok, err := env.From()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMustEncodeCall_Panics(t *testing.T) {
	assert.Panics(t, func() { MustEncodeCall("", nil) })
}
