package credential

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

const (
	// wireVersion はエンコード形式のバージョン接頭辞。
	wireVersion      = "GG1"
	segmentSeparator = "."
	fieldSeparator   = "|"

	// NonceSize はnonceのバイト数（128ビット）。
	NonceSize = 16

	// maxEncodedLength はクレデンシャル文字列として受け付ける最大長。
	maxEncodedLength = 1024
)

// b64 は末尾の余剰ビットが0でない非正規形を拒否する。
var b64 = base64.RawURLEncoding.Strict()

var (
	errMalformed    = errors.New("malformed credential")
	errUnknownKey   = errors.New("unknown key id")
	errBadSignature = errors.New("signature mismatch")
	errBadFields    = errors.New("payload fields invalid")
)

// payloadBytes はkid|subject|issuedAt|nonceHexの正規形を返す。
func payloadBytes(c *model.AccessCredential) []byte {
	return []byte(strings.Join([]string{
		c.KeyID,
		c.SubjectID,
		strconv.FormatInt(c.IssuedAt.Unix(), 10),
		hex.EncodeToString(c.Nonce),
	}, fieldSeparator))
}

// signedText は署名対象のGG1.<base64url(payload)>を返す。
// 署名はエンコード後の文字列そのものに対して計算する。
func signedText(payload []byte) string {
	return wireVersion + segmentSeparator + b64.EncodeToString(payload)
}

// encode はGG1.<base64url(payload)>.<base64url(signature)>を返す。
func encode(signed string, sig []byte) string {
	return signed + segmentSeparator + b64.EncodeToString(sig)
}

// wireParts は署名検証前のクレデンシャル文字列を分解したもの。
type wireParts struct {
	signed  string
	version string
	payload []byte
	sig     []byte
}

// splitWire は最後の区切り文字で署名対象と署名に分ける。
// 空・長すぎる・区切り文字が無い入力のみerrMalformedとし、
// それ以外の分解やデコードの失敗はすべてerrBadSignatureとする。
func splitWire(encoded string) (*wireParts, error) {
	if encoded == "" || len(encoded) > maxEncodedLength {
		return nil, errMalformed
	}
	i := strings.LastIndex(encoded, segmentSeparator)
	if i < 0 {
		return nil, errMalformed
	}

	parts := &wireParts{signed: encoded[:i]}
	version, payloadText, ok := strings.Cut(parts.signed, segmentSeparator)
	if !ok {
		return nil, errBadSignature
	}
	var err error
	if parts.payload, err = b64.DecodeString(payloadText); err != nil {
		return nil, errBadSignature
	}
	if parts.sig, err = b64.DecodeString(encoded[i+1:]); err != nil {
		return nil, errBadSignature
	}
	parts.version = version
	return parts, nil
}

// keyIDOf はペイロード先頭の鍵IDを取り出す。取り出せない場合はerrUnknownKeyを返す。
func keyIDOf(payload []byte) (string, error) {
	i := bytes.Index(payload, []byte(fieldSeparator))
	if i <= 0 {
		return "", errUnknownKey
	}
	return string(payload[:i]), nil
}

// parsePayload は署名検証済みのペイロードをフィールドに分解する。
// subjectは区切り文字を含みうるため、鍵IDを先頭から、nonceと発行時刻を末尾から取り出す。
func parsePayload(payload []byte) (*model.AccessCredential, error) {
	s := string(payload)

	kid, rest, ok := strings.Cut(s, fieldSeparator)
	if !ok {
		return nil, errBadFields
	}
	i := strings.LastIndex(rest, fieldSeparator)
	if i < 0 {
		return nil, errBadFields
	}
	nonceHex := rest[i+1:]
	rest = rest[:i]
	j := strings.LastIndex(rest, fieldSeparator)
	if j <= 0 {
		return nil, errBadFields
	}
	subject, issuedAtStr := rest[:j], rest[j+1:]

	issuedAt, err := strconv.ParseInt(issuedAtStr, 10, 64)
	if err != nil {
		return nil, errBadFields
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != NonceSize {
		return nil, errBadFields
	}

	return &model.AccessCredential{
		KeyID:     kid,
		SubjectID: subject,
		IssuedAt:  time.Unix(issuedAt, 0).UTC(),
		Nonce:     nonce,
	}, nil
}
