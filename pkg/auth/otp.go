package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/model"
)

const otpDigits = 6

// GenerateOTP returns a random 6-digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// VerifyOTP checks a submitted code against the stored one. Expiry is
// evaluated here, at verification time; nothing expires codes actively.
func VerifyOTP(stored string, expiresAt time.Time, submitted string, now time.Time) bool {
	if stored == "" || submitted == "" {
		return false
	}
	if now.After(expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// Sender delivers a code to the user's email or phone. Providers live
// outside this repository.
type Sender interface {
	SendOTP(ctx context.Context, to model.Contact, code string) error
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) SendOTP(_ context.Context, to model.Contact, code string) error {
	s.Log.Info("otp issued", zap.String("contact", to.Key()), zap.String("code", code))
	return nil
}
