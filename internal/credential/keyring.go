// Package credential は入館用の短命・一回限りのアクセスクレデンシャル（QRコード）を発行・検証する。
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// keyInfoPrefix はHKDFのinfoに使う用途ラベル。鍵IDごとに異なる鍵が導出される。
const keyInfoPrefix = "gymgate/access-credential/v1/"

// minSecretLength はマスターシークレットの最小長（バイト）。
const minSecretLength = 32

// KeyRing はクレデンシャル署名鍵の集合。
// 発行には現行の鍵IDのみを使い、検証には過去の鍵IDも受け付ける。
type KeyRing struct {
	current string
	keys    map[string][]byte
}

// NewKeyRing はマスターシークレットから鍵IDごとの署名鍵を導出する。
// previousには検証のみに使う過去の鍵IDを渡す。
func NewKeyRing(secret []byte, currentKeyID string, previous ...string) (*KeyRing, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("credential secret must be at least %d bytes", minSecretLength)
	}

	ring := &KeyRing{current: currentKeyID, keys: make(map[string][]byte)}
	for _, kid := range append([]string{currentKeyID}, previous...) {
		if err := validateKeyID(kid); err != nil {
			return nil, err
		}
		key := make([]byte, sha256.Size)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfoPrefix+kid)), key); err != nil {
			return nil, fmt.Errorf("failed to derive key %q: %w", kid, err)
		}
		ring.keys[kid] = key
	}
	return ring, nil
}

// CurrentKeyID は発行に使う鍵IDを返す。
func (r *KeyRing) CurrentKeyID() string {
	return r.current
}

// sign は現行鍵でmsgのHMAC-SHA256を計算する。
func (r *KeyRing) sign(msg []byte) []byte {
	return mac(r.keys[r.current], msg)
}

// verify はkidの鍵でsigを検証する。未知の鍵IDはfalseとなる。
func (r *KeyRing) verify(kid string, msg, sig []byte) bool {
	key, ok := r.keys[kid]
	if !ok {
		return false
	}
	return hmac.Equal(mac(key, msg), sig)
}

func mac(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func validateKeyID(kid string) error {
	if kid == "" {
		return errors.New("credential key id must not be empty")
	}
	if strings.ContainsAny(kid, fieldSeparator+segmentSeparator) {
		return fmt.Errorf("credential key id %q must not contain %q or %q", kid, fieldSeparator, segmentSeparator)
	}
	return nil
}
