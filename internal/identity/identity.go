package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SafeMPC/stealth-sap/internal/keypair"
	"github.com/SafeMPC/stealth-sap/internal/signer"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

// PromptV1 身份派生签名文本，修改会导致所有已注册用户无法恢复身份
const PromptV1 = "Sign this message to access your Mind account.\nPlease ensure that you are on the correct Mind Network website."

const (
	signatureLength = 65

	// DefaultMaxAttempts 注册密文固定长度编码的重试上限
	DefaultMaxAttempts = 64
)

// Identity 由钱包签名确定性派生的身份
type Identity struct {
	Owner common.Address
	Op    *keypair.OpKeypair
	Enc   *keypair.EncKeypair
}

type options struct {
	prompt      string
	modulusBits int
	maxAttempts int
	rand        io.Reader
}

// Option 身份派生与注册选项
type Option func(*options)

// WithPrompt 替换签名文本
func WithPrompt(prompt string) Option {
	return func(o *options) { o.prompt = prompt }
}

// WithModulusBits 设置 Paillier 模数长度
func WithModulusBits(bits int) Option {
	return func(o *options) { o.modulusBits = bits }
}

// WithMaxAttempts 设置注册编码重试上限
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithRandom 设置随机源
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

func newOptions(opts []Option) *options {
	o := &options{
		prompt:      PromptV1,
		modulusBits: keypair.DefaultModulusBits,
		maxAttempts: DefaultMaxAttempts,
		rand:        rand.Reader,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeriveIdentity 请求钱包签名并派生身份
func DeriveIdentity(ctx context.Context, s signer.Signer, opts ...Option) (*Identity, error) {
	o := newOptions(opts)

	owner, err := s.Address(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get signer address")
	}
	sig, err := s.SignMessage(ctx, []byte(o.prompt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign identity prompt")
	}

	id, err := FromSignature(sig, opts...)
	if err != nil {
		return nil, err
	}
	id.Owner = owner

	log.Debug().Str("owner", owner.Hex()).Str("stealth_op_address", id.Op.Address().Hex()).Msg("Identity derived")
	return id, nil
}

// FromSignature 由 65 字节签名派生身份
// SHA-512(签名) 前 32 字节为操作密钥种子，后 32 字节为加密密钥种子
func FromSignature(sig []byte, opts ...Option) (*Identity, error) {
	if len(sig) != signatureLength {
		return nil, errors.Wrapf(types.ErrInvalidSignature, "signature length %d", len(sig))
	}
	o := newOptions(opts)

	digest := sha512.Sum512(sig)
	op, err := keypair.NewOpKeypair(digest[:32])
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive op keypair")
	}
	enc, err := keypair.NewEncKeypairFromSeed(digest[32:], o.modulusBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive enc keypair")
	}
	return &Identity{Op: op, Enc: enc}, nil
}
