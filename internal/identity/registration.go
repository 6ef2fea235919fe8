package identity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const compressedPubKeyLength = 33

// Registration 写入注册合约的数据
type Registration struct {
	OpPublicKey  []byte
	EncPublicKey []byte
	CipherText   []byte
}

// BuildRegistration 加密操作私钥，重试直到密文最小字节长度恰为模数长度的两倍
func BuildRegistration(id *Identity, opts ...Option) (*Registration, error) {
	if id == nil || id.Op == nil || id.Enc == nil || !id.Op.HasPrivateKey() {
		return nil, errors.New("identity with private keys is required")
	}
	o := newOptions(opts)

	nBytes := id.Enc.N().Bytes()
	want := 2 * len(nBytes)
	sk := id.Op.PrivateKeyInt()

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		c, err := id.Enc.Encrypt(o.rand, sk)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encrypt op private key")
		}
		if cb := c.Bytes(); len(cb) == want {
			return &Registration{
				OpPublicKey:  id.Op.CompressedPublicKey(),
				EncPublicKey: nBytes,
				CipherText:   cb,
			}, nil
		}
		log.Debug().Int("attempt", attempt).Msg("Registration cipher text too short, retrying")
	}
	return nil, errors.Wrapf(types.ErrRegistrationEncodingFailed, "no %d-byte cipher text after %d attempts", want, o.maxAttempts)
}

// Words 按 32 字节切分，供 setKeys 使用
func (r *Registration) Words() *types.RegistrationWords {
	return &types.RegistrationWords{
		OpPublicKey:  types.SplitWords(r.OpPublicKey),
		EncPublicKey: types.SplitWords(r.EncPublicKey),
		CipherText:   types.SplitWords(r.CipherText),
	}
}

// RegistrationHex 十六进制形式
type RegistrationHex struct {
	OpPublicKey  string `json:"opPubKey"`
	EncPublicKey string `json:"encPubKey"`
	CipherText   string `json:"cipherText"`
}

func (r *Registration) Hex() RegistrationHex {
	return RegistrationHex{
		OpPublicKey:  hexutil.Encode(r.OpPublicKey),
		EncPublicKey: hexutil.Encode(r.EncPublicKey),
		CipherText:   hexutil.Encode(r.CipherText),
	}
}

// RegisteredKeys 从注册合约读取的接收方公开数据
type RegisteredKeys struct {
	Op         *keypair.OpKeypair
	Enc        *keypair.EncKeypair
	CipherText *big.Int
}

// IsRegistered 操作公钥非零即视为已注册
func IsRegistered(words *types.RegistrationWords) bool {
	return !words.IsEmpty()
}

// DecodeRegisteredKeys 拼接存储单元并解析，操作公钥截断为 33 字节
func DecodeRegisteredKeys(words *types.RegistrationWords) (*RegisteredKeys, error) {
	if !IsRegistered(words) {
		return nil, types.ErrRecipientNotRegistered
	}

	opBytes := types.JoinWords(words.OpPublicKey)
	if len(opBytes) < compressedPubKeyLength {
		return nil, errors.Errorf("registered op public key too short: %d", len(opBytes))
	}
	op, err := keypair.NewOpPublicKey(opBytes[:compressedPubKeyLength])
	if err != nil {
		return nil, errors.Wrap(err, "invalid registered op public key")
	}

	enc, err := keypair.NewEncPublicKey(new(big.Int).SetBytes(types.JoinWords(words.EncPublicKey)))
	if err != nil {
		return nil, errors.Wrap(err, "invalid registered enc public key")
	}

	cipher := new(big.Int).SetBytes(types.JoinWords(words.CipherText))
	if cipher.Sign() == 0 {
		return nil, errors.New("registered cipher text is empty")
	}
	return &RegisteredKeys{Op: op, Enc: enc, CipherText: cipher}, nil
}
