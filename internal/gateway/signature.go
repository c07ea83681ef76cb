package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
)

// DefaultSignatureTolerance — допустимый возраст подписи. Более старые
// доставки отклоняются, чтобы исключить replay перехваченных payload.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature проверяет заголовок Stripe-Signature вида
// "t=<unix>,v1=<hex hmac>". HMAC-SHA256 считается от "<t>.<payload>".
// Любая проблема с подписью возвращается как SignatureError — это
// единственный случай, когда webhook endpoint отвечает 4xx.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if header == "" {
		return apperror.New(apperror.ErrCodeSignature, "заголовок подписи отсутствует")
	}

	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return apperror.Wrap(err, apperror.ErrCodeSignature, "невалидная метка времени подписи")
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return apperror.New(apperror.ErrCodeSignature, "заголовок подписи неполный")
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return apperror.New(apperror.ErrCodeSignature,
				fmt.Sprintf("подпись устарела: возраст %s", age.Truncate(time.Second)))
		}
	}

	expected := computeSignature(payload, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}

	return apperror.New(apperror.ErrCodeSignature, "подпись webhook не прошла проверку")
}

// SignPayload формирует валидный заголовок подписи. Используется в тестах
// и при локальной эмуляции шлюза.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(payload, ts, secret))
}

func computeSignature(payload []byte, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
