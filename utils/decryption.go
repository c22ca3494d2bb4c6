package utils

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-github/constants"
)

type cipherMode int

const (
	cipherDisabled cipherMode = iota
	cipherLocal
	cipherKMS
)

type cipherConfig struct {
	mode      cipherMode
	kmsClient *kms.Client
	keyID     string
	localKey  []byte
}

func getCipherConfig(ctx context.Context) (*cipherConfig, error) {
	key := strings.TrimSpace(viper.GetString(constants.EncryptionKey))
	if key == "" {
		return &cipherConfig{mode: cipherDisabled}, nil
	}

	if strings.HasPrefix(key, "arn:aws:kms:") {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return &cipherConfig{mode: cipherKMS, kmsClient: kms.NewFromConfig(cfg), keyID: key}, nil
	}

	// local AES-GCM with a SHA-256 derived key
	hash := sha256.Sum256([]byte(key))
	return &cipherConfig{mode: cipherLocal, localKey: hash[:]}, nil
}

func (c *cipherConfig) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.localKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func Decrypt(cipherData []byte) (string, error) {
	ctx := context.Background()
	cfg, err := getCipherConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	switch cfg.mode {
	case cipherDisabled:
		return string(cipherData), nil
	case cipherKMS:
		out, err := cfg.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: cipherData,
		})
		if err != nil {
			return "", fmt.Errorf("decryption failed: %w", err)
		}
		return string(out.Plaintext), nil
	}

	aead, err := cfg.aead()
	if err != nil {
		return "", err
	}

	nonceSize := aead.NonceSize()
	if len(cipherData) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := cipherData[:nonceSize], cipherData[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

// Encrypt is the inverse of DecryptConfig; it returns a base64 url encoded payload
func Encrypt(plaintext string) (string, error) {
	ctx := context.Background()
	cfg, err := getCipherConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	var sealed []byte
	switch cfg.mode {
	case cipherDisabled:
		return plaintext, nil
	case cipherKMS:
		out, err := cfg.kmsClient.Encrypt(ctx, &kms.EncryptInput{
			KeyId:     &cfg.keyID,
			Plaintext: []byte(plaintext),
		})
		if err != nil {
			return "", fmt.Errorf("encryption failed: %w", err)
		}
		sealed = out.CiphertextBlob
	default:
		aead, err := cfg.aead()
		if err != nil {
			return "", err
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return "", err
		}
		sealed = aead.Seal(nonce, nonce, []byte(plaintext), nil)
	}

	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptConfig decrypts base64 encoded encrypted data; content is returned as is when no
// encryption key is configured
func DecryptConfig(encryptedConfig string) (string, error) {
	if strings.TrimSpace(viper.GetString(constants.EncryptionKey)) == "" {
		return encryptedConfig, nil
	}

	// the payload may be stored as a quoted JSON string
	var unquotedString string
	if err := json.Unmarshal([]byte(encryptedConfig), &unquotedString); err != nil {
		unquotedString = strings.TrimSpace(encryptedConfig)
	}

	encryptedData, err := base64.URLEncoding.DecodeString(unquotedString)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 data: %v", err)
	}

	decrypted, err := Decrypt(encryptedData)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %v", err)
	}

	return decrypted, nil
}
