package authn

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
)

// gcmNonceSize is the standard 96-bit GCM nonce length.
const gcmNonceSize = 12

// Seal envelope-encrypts payload with the data key: AES-256-GCM under the
// plaintext half with a fresh random nonce, packaged with the wrapped half
// so the holder can recover the key via the key service.
//
// Blob layout, base64 standard encoding:
//
//	uint16 wrapped-key length || wrapped key || nonce || ciphertext
//
// The plaintext key is used once here and must not be retained.
func Seal(dataKey *kms.DataKey, payload []byte) (string, error) {
	return seal(dataKey.Plaintext, dataKey.Ciphertext, payload)
}

func seal(key, wrapped, payload []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("envelope cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("envelope gcm: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)

	blob := make([]byte, 0, 2+len(wrapped)+len(nonce)+len(ciphertext))
	blob = binary.BigEndian.AppendUint16(blob, uint16(len(wrapped)))
	blob = append(blob, wrapped...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// SplitBlob decodes an envelope blob into its wrapped key and the sealed
// remainder (nonce plus ciphertext). Callers unwrap the key with the key
// service, then call Open.
func SplitBlob(blob string) (wrapped, sealed []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope decode: %w", err)
	}
	if len(raw) < 2 {
		return nil, nil, fmt.Errorf("envelope blob truncated")
	}

	wrappedLen := int(binary.BigEndian.Uint16(raw))
	if len(raw) < 2+wrappedLen+gcmNonceSize {
		return nil, nil, fmt.Errorf("envelope blob truncated")
	}

	return raw[2 : 2+wrappedLen], raw[2+wrappedLen:], nil
}

// Open decrypts the sealed remainder of a blob with the unwrapped data key.
func Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < gcmNonceSize {
		return nil, fmt.Errorf("envelope blob truncated")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope gcm: %w", err)
	}

	payload, err := gcm.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("envelope open: %w", err)
	}
	return payload, nil
}
