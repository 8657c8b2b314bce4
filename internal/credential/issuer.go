package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/hitoshi/gymgate/internal/model"
)

const (
	// DefaultTTL はクレデンシャルの有効時間。
	DefaultTTL = 60 * time.Second
	// qrSize はQRコードPNGの一辺のピクセル数。
	qrSize = 256
)

// IssuedCredential は発行したクレデンシャルとその表現。
// ExpiresAtは表示用であり、検証は受付側の設定値で行う。
type IssuedCredential struct {
	Credential model.AccessCredential
	Encoded    string
	QRDataURL  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Issuer は会員端末向けにクレデンシャルを発行する。署名鍵以外の状態を持たない。
type Issuer struct {
	keys *KeyRing
	ttl  time.Duration

	now     func() time.Time
	entropy io.Reader
}

// NewIssuer はIssuerを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewIssuer(keys *KeyRing, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{keys: keys, ttl: ttl, now: time.Now, entropy: rand.Reader}
}

// Issue はsubjectのクレデンシャルを新しいnonceと現在時刻で発行する。
func (i *Issuer) Issue(_ context.Context, subjectID string) (*IssuedCredential, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id must not be empty")
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(i.entropy, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	cred := model.AccessCredential{
		KeyID:     i.keys.CurrentKeyID(),
		SubjectID: subjectID,
		IssuedAt:  issuedAt,
		Nonce:     nonce,
	}
	signed := signedText(payloadBytes(&cred))
	cred.Signature = i.keys.sign([]byte(signed))
	encoded := encode(signed, cred.Signature)

	png, err := qrcode.Encode(encoded, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	return &IssuedCredential{
		Credential: cred,
		Encoded:    encoded,
		QRDataURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(i.ttl),
	}, nil
}
