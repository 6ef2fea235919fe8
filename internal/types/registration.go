package types

// Word 合约存储单元
type Word = [32]byte

// RegistrationWords 注册合约中按 32 字节切分存储的公钥与密文
type RegistrationWords struct {
	OpPublicKey  []Word `json:"opPubKey"`
	EncPublicKey []Word `json:"encPubKey"`
	CipherText   []Word `json:"cipherText"`
}

// IsEmpty 全部为空或全零视为未注册
func (w *RegistrationWords) IsEmpty() bool {
	if w == nil {
		return true
	}
	for _, word := range w.OpPublicKey {
		if word != (Word{}) {
			return false
		}
	}
	return true
}

// SplitWords 按 32 字节切分，末尾补零
func SplitWords(b []byte) []Word {
	words := make([]Word, 0, (len(b)+31)/32)
	for i := 0; i < len(b); i += 32 {
		var w Word
		copy(w[:], b[i:min(i+32, len(b))])
		words = append(words, w)
	}
	return words
}

// JoinWords 拼接存储单元
func JoinWords(words []Word) []byte {
	out := make([]byte, 0, len(words)*32)
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}
