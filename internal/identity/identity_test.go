package identity_test

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/signer"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const (
	testModulusBits = 1024
	testWalletKey   = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type fixedSigner struct {
	signer.Signer
	sig []byte
}

func (f *fixedSigner) Address(ctx context.Context) (common.Address, error) {
	return common.HexToAddress("0x01"), nil
}

func (f *fixedSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return f.sig, nil
}

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	w, err := signer.NewWalletSigner(testWalletKey, big.NewInt(11155111), nil)
	require.NoError(t, err)
	id, err := identity.DeriveIdentity(context.Background(), w, identity.WithModulusBits(testModulusBits))
	require.NoError(t, err)
	return id
}

func TestDeriveIdentityDeterministic(t *testing.T) {
	id1 := testIdentity(t)
	id2 := testIdentity(t)

	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), id1.Owner)
	assert.Equal(t, id1.Op.PrivateKeyBytes(), id2.Op.PrivateKeyBytes())
	assert.Equal(t, 0, id1.Enc.N().Cmp(id2.Enc.N()))
	assert.Equal(t, testModulusBits, id1.Enc.N().BitLen())
	assert.Less(t, id1.Op.PrivateKeyBytes()[0], byte(0x80))
}

func TestFromSignatureDistinctSignatures(t *testing.T) {
	sig1 := bytes.Repeat([]byte{0x01}, 65)
	sig2 := bytes.Repeat([]byte{0x02}, 65)

	id1, err := identity.FromSignature(sig1, identity.WithModulusBits(testModulusBits))
	require.NoError(t, err)
	id2, err := identity.FromSignature(sig2, identity.WithModulusBits(testModulusBits))
	require.NoError(t, err)

	assert.NotEqual(t, id1.Op.Address(), id2.Op.Address())
	assert.NotEqual(t, 0, id1.Enc.N().Cmp(id2.Enc.N()))
}

func TestDeriveIdentityInvalidSignature(t *testing.T) {
	s := &fixedSigner{sig: make([]byte, 64)}
	_, err := identity.DeriveIdentity(context.Background(), s, identity.WithModulusBits(testModulusBits))
	assert.ErrorIs(t, err, types.ErrInvalidSignature)
}

func TestBuildRegistrationRoundTrip(t *testing.T) {
	id := testIdentity(t)

	reg, err := identity.BuildRegistration(id)
	require.NoError(t, err)
	assert.Len(t, reg.OpPublicKey, 33)
	assert.Len(t, reg.EncPublicKey, testModulusBits/8)
	assert.Len(t, reg.CipherText, 2*testModulusBits/8)

	words := reg.Words()
	assert.Len(t, words.OpPublicKey, 2)
	assert.Len(t, words.CipherText, 2*testModulusBits/8/32)
	assert.True(t, identity.IsRegistered(words))

	keys, err := identity.DecodeRegisteredKeys(words)
	require.NoError(t, err)
	assert.Equal(t, id.Op.Address(), keys.Op.Address())
	assert.Equal(t, 0, id.Enc.N().Cmp(keys.Enc.N()))

	sk, err := id.Enc.Decrypt(keys.CipherText)
	require.NoError(t, err)
	assert.Equal(t, 0, id.Op.PrivateKeyInt().Cmp(sk))

	h := reg.Hex()
	assert.Equal(t, 2+2*33, len(h.OpPublicKey))
}

func TestBuildRegistrationExhaustsAttempts(t *testing.T) {
	id := testIdentity(t)
	_, err := identity.BuildRegistration(id, identity.WithMaxAttempts(0))
	assert.ErrorIs(t, err, types.ErrRegistrationEncodingFailed)
}

func TestDecodeRegisteredKeysNotRegistered(t *testing.T) {
	_, err := identity.DecodeRegisteredKeys(&types.RegistrationWords{})
	assert.ErrorIs(t, err, types.ErrRecipientNotRegistered)

	_, err = identity.DecodeRegisteredKeys(&types.RegistrationWords{OpPublicKey: make([]types.Word, 2)})
	assert.ErrorIs(t, err, types.ErrRecipientNotRegistered)
	assert.False(t, identity.IsRegistered(nil))
}
