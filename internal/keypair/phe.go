package keypair

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/kashguard/tss-lib/crypto/paillier"
	"github.com/pkg/errors"
)

// DefaultModulusBits 默认 Paillier 模数长度
const DefaultModulusBits = 2048

var one = big.NewInt(1)

// EncKeypair Paillier 加密密钥对（g = n + 1），仅持有公钥时 priv 为 nil
type EncKeypair struct {
	pub  *paillier.PublicKey
	priv *paillier.PrivateKey
}

// NewEncKeypairFromSeed 由种子确定性地生成密钥对
func NewEncKeypairFromSeed(seed []byte, modulusBits int) (*EncKeypair, error) {
	if modulusBits < 512 || modulusBits%2 != 0 {
		return nil, errors.Errorf("invalid modulus size: %d", modulusBits)
	}
	src, err := newPrimeSource(seed)
	if err != nil {
		return nil, err
	}

	p, err := src.prime(modulusBits / 2)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate p")
	}
	var q *big.Int
	for q == nil || q.Cmp(p) == 0 {
		if q, err = src.prime(modulusBits / 2); err != nil {
			return nil, errors.Wrap(err, "failed to generate q")
		}
	}
	return NewEncKeypairFromPrimes(p, q)
}

// NewEncKeypairFromPrimes 由两个素数构造密钥对
func NewEncKeypairFromPrimes(p, q *big.Int) (*EncKeypair, error) {
	if p == nil || q == nil || p.Cmp(q) == 0 {
		return nil, errors.New("p and q must be distinct primes")
	}
	n := new(big.Int).Mul(p, q)
	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	phi := new(big.Int).Mul(pm1, qm1)
	gcd := new(big.Int).GCD(nil, nil, pm1, qm1)
	lambda := new(big.Int).Div(phi, gcd)

	pub := &paillier.PublicKey{N: n}
	priv := &paillier.PrivateKey{
		PublicKey: *pub,
		LambdaN:   lambda,
		PhiN:      phi,
	}
	return &EncKeypair{pub: pub, priv: priv}, nil
}

// NewEncPublicKey 仅由模数构造公钥
func NewEncPublicKey(n *big.Int) (*EncKeypair, error) {
	if n == nil || n.Sign() <= 0 {
		return nil, errors.New("paillier modulus is required")
	}
	return &EncKeypair{pub: &paillier.PublicKey{N: new(big.Int).Set(n)}}, nil
}

func (k *EncKeypair) HasPrivateKey() bool {
	return k.priv != nil
}

// N 公钥模数
func (k *EncKeypair) N() *big.Int {
	return k.pub.N
}

// NSquare n^2
func (k *EncKeypair) NSquare() *big.Int {
	return k.pub.NSquare()
}

func (k *EncKeypair) PublicKeyHex() string {
	return hexutil.Encode(k.pub.N.Bytes())
}

// Encrypt c = g^m * r^n mod n^2，g = n + 1 时 g^m = 1 + m*n
func (k *EncKeypair) Encrypt(rnd io.Reader, m *big.Int) (*big.Int, error) {
	n := k.pub.N
	if m == nil || m.Sign() < 0 || m.Cmp(n) >= 0 {
		return nil, errors.New("message must be in [0, N)")
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	r, err := k.randomUnit(rnd)
	if err != nil {
		return nil, err
	}

	n2 := k.pub.NSquare()
	gm := new(big.Int).Mul(m, n)
	gm.Add(gm, one)
	gm.Mod(gm, n2)
	rn := new(big.Int).Exp(r, n, n2)
	return gm.Mul(gm, rn).Mod(gm, n2), nil
}

// randomUnit 取 [1, N) 中与 N 互素的随机数
func (k *EncKeypair) randomUnit(rnd io.Reader) (*big.Int, error) {
	n := k.pub.N
	gcd := new(big.Int)
	for {
		r, err := rand.Int(rnd, n)
		if err != nil {
			return nil, errors.Wrap(err, "failed to draw paillier randomness")
		}
		if r.Sign() == 0 {
			continue
		}
		if gcd.GCD(nil, nil, r, n).Cmp(one) == 0 {
			return r, nil
		}
	}
}

// Decrypt 解密，无私钥或密文不合法时返回错误
func (k *EncKeypair) Decrypt(c *big.Int) (*big.Int, error) {
	if k.priv == nil {
		return nil, errors.New("paillier private key not available")
	}
	if c == nil {
		return nil, errors.New("cipher text is nil")
	}
	m, err := k.priv.Decrypt(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt paillier cipher text")
	}
	return m, nil
}

// HomomorphicAdd Dec(c1*c2 mod n^2) = m1 + m2 mod n
func (k *EncKeypair) HomomorphicAdd(c1, c2 *big.Int) (*big.Int, error) {
	sum, err := k.pub.HomoAdd(c1, c2)
	if err != nil {
		return nil, errors.Wrap(err, "failed to add paillier cipher texts")
	}
	return sum, nil
}
