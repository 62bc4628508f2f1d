package utils

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

const (
	CardNumberLength = 16
	pgpMessageType   = "PGP MESSAGE"
)

var ErrWrongPassphrase = errors.New("card cipher: wrong passphrase")

// CardCipher шифрует номера карт симметричным PGP и считает их отпечатки
type CardCipher struct {
	passphrase []byte
	hmacKey    []byte
	config     *packet.Config
}

// NewCardCipher создает шифратор номеров карт
func NewCardCipher(passphrase, hmacKey string) (*CardCipher, error) {
	if passphrase == "" || hmacKey == "" {
		return nil, errors.New("card cipher: passphrase and hmac key are required")
	}
	return &CardCipher{
		passphrase: []byte(passphrase),
		hmacKey:    []byte(hmacKey),
		config:     &packet.Config{DefaultCipher: packet.CipherAES256},
	}, nil
}

// Seal шифрует номер карты и возвращает armored PGP сообщение
func (c *CardCipher) Seal(number string) (string, error) {
	var buf bytes.Buffer
	armoredWriter, err := armor.Encode(&buf, pgpMessageType, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armored writer: %w", err)
	}

	plaintext, err := openpgp.SymmetricallyEncrypt(armoredWriter, c.passphrase, nil, c.config)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypt writer: %w", err)
	}
	if _, err := plaintext.Write([]byte(number)); err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := plaintext.Close(); err != nil {
		return "", fmt.Errorf("failed to close plaintext writer: %w", err)
	}
	if err := armoredWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close armored writer: %w", err)
	}
	return buf.String(), nil
}

// Open расшифровывает номер карты
func (c *CardCipher) Open(sealed string) (string, error) {
	block, err := armor.Decode(strings.NewReader(sealed))
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted data: %w", err)
	}

	// ReadMessage повторяет запрос пароля, пока prompt не вернет ошибку
	asked := false
	prompt := func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if asked || !symmetric {
			return nil, ErrWrongPassphrase
		}
		asked = true
		return c.passphrase, nil
	}

	md, err := openpgp.ReadMessage(block.Body, nil, prompt, c.config)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	decrypted, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return "", fmt.Errorf("failed to read decrypted data: %w", err)
	}
	return string(decrypted), nil
}

// Fingerprint возвращает HMAC-SHA256 номера в hex. Одинаковые номера дают одинаковый отпечаток.
func (c *CardCipher) Fingerprint(number string) string {
	h := hmac.New(sha256.New, c.hmacKey)
	h.Write([]byte(number))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeCardNumber убирает пробелы из номера
func NormalizeCardNumber(number string) string {
	return strings.ReplaceAll(strings.TrimSpace(number), " ", "")
}

// ValidCardNumber: 16 цифр и корректная контрольная сумма Луна
func ValidCardNumber(number string) bool {
	if len(number) != CardNumberLength {
		return false
	}
	return ValidLuhn(number)
}

// ValidLuhn проверяет номер по алгоритму Луна
func ValidLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		d := int(ch - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// GenerateCardNumber генерирует 16-значный номер с корректной контрольной цифрой
func GenerateCardNumber() (string, error) {
	digits := make([]byte, CardNumberLength)
	digits[0] = '4'
	for i := 1; i < CardNumberLength-1; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate card number: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	digits[CardNumberLength-1] = luhnCheckDigit(digits[:CardNumberLength-1])
	return string(digits), nil
}

func luhnCheckDigit(payload []byte) byte {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}

// MaskCardNumber возвращает маску вида **** **** **** 1234
func MaskCardNumber(number string) string {
	if len(number) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + number[len(number)-4:]
}

// HashPassword создает bcrypt хеш пароля
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword проверяет пароль
func VerifyPassword(password, hashedPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
