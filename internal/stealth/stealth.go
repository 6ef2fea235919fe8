package stealth

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/chain"
	"github.com/SafeMPC/stealth-sap/internal/identity"
	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// SendResult 新建的一次性隐身地址
type SendResult struct {
	StealthAddress     common.Address
	SkCipher           *big.Int
	EphemeralPublicKey []byte
}

// SkCipherHex 0x 前缀偶数长度十六进制
func (r *SendResult) SkCipherHex() string {
	return hexutil.Encode(r.SkCipher.Bytes())
}

// SkCipherBytes 公告中携带的密文
func (r *SendResult) SkCipherBytes() []byte {
	return r.SkCipher.Bytes()
}

// CreateDestination 为已注册接收方生成隐身地址
// skCipher = Enc(eph) * 注册密文，解密后即为 opSK + eph
func CreateDestination(rnd io.Reader, keys *identity.RegisteredKeys) (*SendResult, error) {
	if keys == nil {
		return nil, types.ErrRecipientNotRegistered
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	eph, err := keypair.GenerateOpKeypair(rnd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ephemeral keypair")
	}
	c1, err := keys.Enc.Encrypt(rnd, eph.PrivateKeyInt())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt ephemeral scalar")
	}
	skCipher, err := keys.Enc.HomomorphicAdd(c1, keys.CipherText)
	if err != nil {
		return nil, err
	}
	sa, err := keys.Op.AddPublicKey(eph)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive stealth public key")
	}

	return &SendResult{
		StealthAddress:     sa.Address(),
		SkCipher:           skCipher,
		EphemeralPublicKey: eph.PublicKeyBytes(),
	}, nil
}

// CreateForRecipient 读取接收方注册数据后生成隐身地址
func CreateForRecipient(ctx context.Context, registry chain.RegistryReader, recipient common.Address, rnd io.Reader) (*SendResult, error) {
	words, err := registry.GetKeys(ctx, recipient)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read registered keys of %s", recipient.Hex())
	}
	keys, err := identity.DecodeRegisteredKeys(words)
	if err != nil {
		return nil, errors.Wrapf(err, "recipient %s", recipient.Hex())
	}
	return CreateDestination(rnd, keys)
}

// TryRecoverOwnership 尝试解密公告密文并比对地址，任何失败都返回 nil
func TryRecoverOwnership(enc *keypair.EncKeypair, sa common.Address, cipher []byte) *keypair.OpKeypair {
	if enc == nil || len(cipher) == 0 {
		return nil
	}
	m, err := enc.Decrypt(new(big.Int).SetBytes(cipher))
	if err != nil {
		return nil
	}
	// 明文为两个标量之和，可能超过曲线阶
	kp, err := keypair.NewOpKeypairFromInt(m)
	if err != nil {
		return nil
	}
	if kp.Address() != sa {
		return nil
	}
	return kp
}

// VerifyOwnership 花费前确认隐身地址归属
func VerifyOwnership(id *identity.Identity, sa common.Address, cipher []byte) (*keypair.OpKeypair, error) {
	if id == nil {
		return nil, errors.New("identity is required")
	}
	kp := TryRecoverOwnership(id.Enc, sa, cipher)
	if kp == nil {
		return nil, errors.Wrapf(types.ErrNotStealthOwner, "%s", sa.Hex())
	}
	return kp, nil
}

// Match 属于当前身份的公告及其可花费密钥
type Match struct {
	Keypair      *keypair.OpKeypair
	Announcement *types.Announcement
}

// Recover 对单条公告尝试恢复所有权，不属于当前身份时返回 nil
func Recover(enc *keypair.EncKeypair, a *types.Announcement) *Match {
	if a == nil {
		return nil
	}
	kp := TryRecoverOwnership(enc, a.StealthAddress, a.Ciphertext)
	if kp == nil {
		return nil
	}
	return &Match{Keypair: kp, Announcement: a}
}
