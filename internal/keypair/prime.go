package keypair

import (
	"crypto/sha256"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
)

const (
	// primeSeedRounds 种子经 SHA-256 链式迭代的次数
	primeSeedRounds = 32
	primeMRRounds   = 20
	maxPrimeDraws   = 1 << 12
)

// primeSource 由种子派生的确定性素数源
type primeSource struct {
	stream *chacha20.Cipher
}

func newPrimeSource(seed []byte) (*primeSource, error) {
	if len(seed) == 0 {
		return nil, errors.New("prime seed is empty")
	}
	key := sha256.Sum256(seed)
	for i := 1; i < primeSeedRounds; i++ {
		key = sha256.Sum256(key[:])
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key[:], make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to init prime keystream")
	}
	return &primeSource{stream: stream}, nil
}

func (s *primeSource) read(buf []byte) {
	clear(buf)
	s.stream.XORKeyStream(buf, buf)
}

// prime 生成 bits 位素数：最高两位与最低位置 1，再向上搜索奇数
func (s *primeSource) prime(bits int) (*big.Int, error) {
	if bits < 16 {
		return nil, errors.Errorf("prime size too small: %d", bits)
	}
	buf := make([]byte, (bits+7)/8)
	two := big.NewInt(2)

	for draw := 0; draw < maxPrimeDraws; draw++ {
		s.read(buf)
		if excess := len(buf)*8 - bits; excess > 0 {
			buf[0] &= byte(0xff >> excess)
		}
		p := new(big.Int).SetBytes(buf)
		p.SetBit(p, bits-1, 1)
		p.SetBit(p, bits-2, 1)
		p.SetBit(p, 0, 1)

		for p.BitLen() == bits {
			if p.ProbablyPrime(primeMRRounds) {
				return p, nil
			}
			p.Add(p, two)
		}
	}
	return nil, errors.New("prime search exhausted")
}
