package keypair

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// PublicKeyToAddress 通过 Keccak256(pubKey[1:]) 生成地址，输入须为 65 字节未压缩公钥
func PublicKeyToAddress(uncompressed []byte) common.Address {
	hash := crypto.Keccak256(uncompressed[1:])
	return common.BytesToAddress(hash[12:])
}

// GenerateAddress 支持 33 字节压缩与 65 字节未压缩公钥
func GenerateAddress(pubKey []byte) (common.Address, error) {
	if len(pubKey) == 0 {
		return common.Address{}, errors.New("public key is required")
	}
	switch {
	case len(pubKey) == 65 && pubKey[0] == 0x04:
		return PublicKeyToAddress(pubKey), nil
	case len(pubKey) == 33 && (pubKey[0] == 0x02 || pubKey[0] == 0x03):
		key, err := btcec.ParsePubKey(pubKey)
		if err != nil {
			return common.Address{}, errors.Wrap(err, "failed to parse compressed secp256k1 pubkey")
		}
		return PublicKeyToAddress(key.SerializeUncompressed()), nil
	default:
		return common.Address{}, errors.Errorf("unsupported public key format: len=%d", len(pubKey))
	}
}

// ParseAddress 校验并解析十六进制地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(types.ErrInvalidAddress, "%q", s)
	}
	return common.HexToAddress(s), nil
}
