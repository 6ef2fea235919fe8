package stealth_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/stealth"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const testModulusBits = 1024

func newIdentity(t *testing.T, fill byte) *identity.Identity {
	t.Helper()
	id, err := identity.FromSignature(bytes.Repeat([]byte{fill}, 65), identity.WithModulusBits(testModulusBits))
	require.NoError(t, err)
	return id
}

func registered(t *testing.T, id *identity.Identity) *identity.RegisteredKeys {
	t.Helper()
	reg, err := identity.BuildRegistration(id)
	require.NoError(t, err)
	keys, err := identity.DecodeRegisteredKeys(reg.Words())
	require.NoError(t, err)
	return keys
}

type fakeRegistry struct {
	words *types.RegistrationWords
}

func (f *fakeRegistry) GetKeys(ctx context.Context, owner common.Address) (*types.RegistrationWords, error) {
	return f.words, nil
}

func (f *fakeRegistry) RegistrationBlock(ctx context.Context, owner common.Address) (uint64, bool, error) {
	return 0, false, nil
}

func TestCreateAndRecover(t *testing.T) {
	bob := newIdentity(t, 0x01)
	keys := registered(t, bob)

	res, err := stealth.CreateDestination(rand.Reader, keys)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SkCipherHex(), "0x"))
	assert.Equal(t, 0, len(res.SkCipherHex())%2)
	assert.Len(t, res.EphemeralPublicKey, 65)

	kp := stealth.TryRecoverOwnership(bob.Enc, res.StealthAddress, res.SkCipherBytes())
	require.NotNil(t, kp)
	assert.Equal(t, res.StealthAddress, kp.Address())
	assert.True(t, kp.HasPrivateKey())

	verified, err := stealth.VerifyOwnership(bob, res.StealthAddress, res.SkCipherBytes())
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKeyBytes(), verified.PrivateKeyBytes())
}

func TestRecoverRejectsOtherIdentity(t *testing.T) {
	bob := newIdentity(t, 0x01)
	carol := newIdentity(t, 0x02)
	keys := registered(t, bob)

	for i := 0; i < 1000; i++ {
		res, err := stealth.CreateDestination(rand.Reader, keys)
		require.NoError(t, err)
		require.Nil(t, stealth.TryRecoverOwnership(carol.Enc, res.StealthAddress, res.SkCipherBytes()))
	}

	res, err := stealth.CreateDestination(rand.Reader, keys)
	require.NoError(t, err)
	_, err = stealth.VerifyOwnership(carol, res.StealthAddress, res.SkCipherBytes())
	assert.ErrorIs(t, err, types.ErrNotStealthOwner)
}

func TestRecoverMalformedCipher(t *testing.T) {
	bob := newIdentity(t, 0x01)
	sa := common.HexToAddress("0x1111111111111111111111111111111111111111")

	assert.Nil(t, stealth.TryRecoverOwnership(bob.Enc, sa, nil))
	assert.Nil(t, stealth.TryRecoverOwnership(bob.Enc, sa, []byte{0x01, 0x02}))
	assert.Nil(t, stealth.TryRecoverOwnership(bob.Enc, sa, bytes.Repeat([]byte{0xff}, 2*testModulusBits/8+1)))
}

func TestRecoverWhenScalarSumExceedsCurveOrder(t *testing.T) {
	top := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	op, err := keypair.NewOpKeypairFromInt(top)
	require.NoError(t, err)
	base := newIdentity(t, 0x03)
	bob := &identity.Identity{Op: op, Enc: base.Enc}
	keys := registered(t, bob)

	// 临时私钥取 2^255-1，之后的随机数用于加密
	rnd := io.MultiReader(bytes.NewReader(bytes.Repeat([]byte{0xff}, 32)), rand.Reader)
	res, err := stealth.CreateDestination(rnd, keys)
	require.NoError(t, err)

	kp := stealth.TryRecoverOwnership(bob.Enc, res.StealthAddress, res.SkCipherBytes())
	require.NotNil(t, kp)
	assert.Equal(t, res.StealthAddress, kp.Address())
}

func TestCreateForRecipient(t *testing.T) {
	bob := newIdentity(t, 0x01)
	reg, err := identity.BuildRegistration(bob)
	require.NoError(t, err)

	res, err := stealth.CreateForRecipient(context.Background(), &fakeRegistry{words: reg.Words()}, common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.NotNil(t, stealth.TryRecoverOwnership(bob.Enc, res.StealthAddress, res.SkCipherBytes()))

	_, err = stealth.CreateForRecipient(context.Background(), &fakeRegistry{words: &types.RegistrationWords{}}, common.HexToAddress("0x01"), nil)
	assert.ErrorIs(t, err, types.ErrRecipientNotRegistered)
}

func TestRecoverAnnouncement(t *testing.T) {
	bob := newIdentity(t, 0x01)
	res, err := stealth.CreateDestination(rand.Reader, registered(t, bob))
	require.NoError(t, err)

	a := &types.Announcement{
		StealthAddress: res.StealthAddress,
		Ciphertext:     res.SkCipherBytes(),
		Amount:         big.NewInt(1),
		Tag:            types.ChainTagTransfer,
	}
	m := stealth.Recover(bob.Enc, a)
	require.NotNil(t, m)
	assert.Same(t, a, m.Announcement)
	assert.Equal(t, res.StealthAddress, m.Keypair.Address())

	assert.Nil(t, stealth.Recover(bob.Enc, nil))
	assert.Nil(t, stealth.Recover(bob.Enc, &types.Announcement{StealthAddress: res.StealthAddress, Ciphertext: []byte{0x01}}))
}
