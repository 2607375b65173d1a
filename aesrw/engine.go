package aesrw

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize is the only key length the engine accepts (AES-128).
const KeySize = 16

// Engine turns counters into keystream blocks. Each block is encrypted on its
// own; there is no chaining and no padding.
type Engine struct {
	block cipher.Block
}

func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Engine{block: block}, nil
}

// EncryptBlock writes E_key(counter) to dst.
func (e *Engine) EncryptBlock(dst *[BlockSize]byte, counter CTR) {
	e.block.Encrypt(dst[:], counter[:])
}
