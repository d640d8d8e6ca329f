package service

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	codePrefixLen  = 3
	codeRandomLen  = 4
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeRetries = 5
)

// generateVoucherCode собирает код ваучера: трёхбуквенный префикс из
// идентификатора ваучера, шесть цифр времени и четыре случайных символа.
// Уникальность гарантирует хранилище; при коллизии код генерируется заново.
func generateVoucherCode(voucherID string, now time.Time) (string, error) {
	var prefix strings.Builder
	for _, r := range voucherID {
		if unicode.IsLetter(r) {
			prefix.WriteRune(unicode.ToUpper(r))
			if prefix.Len() == codePrefixLen {
				break
			}
		}
	}
	for prefix.Len() < codePrefixLen {
		prefix.WriteByte('X')
	}

	suffix := fmt.Sprintf("%06d", now.Unix()%1_000_000)

	random := make([]byte, codeRandomLen)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range random {
		random[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return prefix.String() + suffix + string(random), nil
}
