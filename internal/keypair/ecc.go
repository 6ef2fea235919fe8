package keypair

import (
	"crypto/ecdsa"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// ScalarSize secp256k1 私钥标量长度
const ScalarSize = 32

// OpKeypair 操作密钥对（secp256k1），仅持有公钥时 priv 为 nil
type OpKeypair struct {
	priv *btcec.PrivateKey
	pub  *btcec.PublicKey
}

// GenerateOpKeypair 从随机源生成密钥对，最高位清零
func GenerateOpKeypair(rand io.Reader) (*OpKeypair, error) {
	seed := make([]byte, ScalarSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, errors.Wrap(err, "failed to read random scalar")
	}
	return NewOpKeypair(seed)
}

// NewOpKeypair 由 32 字节种子构造密钥对
// 种子首字节最高位被清零，保证标量小于 2^255
func NewOpKeypair(seed []byte) (*OpKeypair, error) {
	if len(seed) != ScalarSize {
		return nil, errors.Errorf("invalid op seed length: %d", len(seed))
	}
	scalar := make([]byte, ScalarSize)
	copy(scalar, seed)
	scalar[0] &= 0x7f
	return NewOpKeypairFromInt(new(big.Int).SetBytes(scalar))
}

// NewOpKeypairFromInt 由整数构造密钥对，先对曲线阶 N 取模
func NewOpKeypairFromInt(k *big.Int) (*OpKeypair, error) {
	if k == nil || k.Sign() < 0 {
		return nil, errors.New("private scalar must be non-negative")
	}
	reduced := new(big.Int).Mod(k, btcec.S256().N)

	var s secp256k1.ModNScalar
	s.SetByteSlice(reduced.FillBytes(make([]byte, ScalarSize)))
	if s.IsZero() {
		return nil, errors.New("private scalar is zero modulo curve order")
	}

	priv := secp256k1.NewPrivateKey(&s)
	return &OpKeypair{priv: priv, pub: priv.PubKey()}, nil
}

// NewOpPublicKey 解析 33 字节压缩或 65 字节未压缩公钥
func NewOpPublicKey(pub []byte) (*OpKeypair, error) {
	key, err := btcec.ParsePubKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse secp256k1 pubkey")
	}
	return &OpKeypair{pub: key}, nil
}

// HasPrivateKey 是否持有私钥
func (k *OpKeypair) HasPrivateKey() bool {
	return k.priv != nil
}

func (k *OpKeypair) PublicKey() *btcec.PublicKey {
	return k.pub
}

// PublicKeyBytes 65 字节未压缩公钥 (0x04 | X | Y)
func (k *OpKeypair) PublicKeyBytes() []byte {
	return k.pub.SerializeUncompressed()
}

// CompressedPublicKey 33 字节压缩公钥
func (k *OpKeypair) CompressedPublicKey() []byte {
	return k.pub.SerializeCompressed()
}

func (k *OpKeypair) PublicKeyHex() string {
	return hexutil.Encode(k.PublicKeyBytes())
}

// PrivateKeyBytes 32 字节大端私钥，无私钥时返回 nil
func (k *OpKeypair) PrivateKeyBytes() []byte {
	if k.priv == nil {
		return nil
	}
	return k.priv.Serialize()
}

// PrivateKeyInt 私钥标量
func (k *OpKeypair) PrivateKeyInt() *big.Int {
	if k.priv == nil {
		return nil
	}
	return new(big.Int).SetBytes(k.priv.Serialize())
}

func (k *OpKeypair) PrivateKeyHex() string {
	if k.priv == nil {
		return ""
	}
	return hexutil.Encode(k.priv.Serialize())
}

// ECDSA 返回标准库私钥，供交易签名使用
func (k *OpKeypair) ECDSA() *ecdsa.PrivateKey {
	if k.priv == nil {
		return nil
	}
	return k.priv.ToECDSA()
}

// Address 以太坊地址
func (k *OpKeypair) Address() common.Address {
	return PublicKeyToAddress(k.PublicKeyBytes())
}

// AddPublicKey 公钥点加法，结果只含公钥
func (k *OpKeypair) AddPublicKey(other *OpKeypair) (*OpKeypair, error) {
	if other == nil || other.pub == nil {
		return nil, errors.New("public key is required")
	}
	curve := btcec.S256()
	x, y := curve.Add(k.pub.X(), k.pub.Y(), other.pub.X(), other.pub.Y())
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, errors.New("point addition resulted in point at infinity")
	}

	// 0x04 | X | Y
	raw := make([]byte, 65)
	raw[0] = 0x04
	x.FillBytes(raw[1:33])
	y.FillBytes(raw[33:])
	return NewOpPublicKey(raw)
}
