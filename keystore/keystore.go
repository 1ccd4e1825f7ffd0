// Package keystore encrypts and decrypts a node's RSA private key at rest,
// using a password-derived AES-256-GCM key.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jonaspfi/ledgernode/crypto"
)

type file struct {
	PubKeyPEM  string `json:"pub_key_pem"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// Save encrypts priv's PEM encoding with password and writes it to path.
func Save(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv.PEM(), nil)

	ks := file{
		PubKeyPEM:  string(priv.Public().PEM()),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Load decrypts the keystore at path using password.
func Load(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	var ks file
	if err := json.Unmarshal(data, &ks); err != nil {
		return crypto.PrivateKey{}, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return crypto.PrivateKey{}, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	privPEM, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return crypto.PrivateKey{}, errors.New("keystore: wrong password or corrupted keystore")
	}
	return crypto.PrivateKeyFromPEM(privPEM)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
