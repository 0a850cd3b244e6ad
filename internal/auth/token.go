package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/hex"
    "errors"
    "strconv"
    "strings"
    "time"
)

var (
    ErrTokenFormat = errors.New("invalid token format")
    ErrTokenSig    = errors.New("invalid token signature")
    ErrTokenExp    = errors.New("token expired")
    ErrTokenRoom   = errors.New("room code mismatch")
)

const (
    kindWorker = "worker"
    kindPlayer = "player"
)

// Claims are the fields carried by a signed token.
type Claims struct {
    Kind     string
    Room     string
    Identity string
    Exp      int64
}

// GenerateWorkerToken signs a token for the voice worker of one room.
func GenerateWorkerToken(secret, roomCode string, expUnix int64) (string, error) {
    return sign(secret, Claims{Kind: kindWorker, Room: roomCode, Exp: expUnix})
}

// ValidateWorkerToken checks a voice worker token and returns its room code.
func ValidateWorkerToken(secret, token, expectRoom string, now time.Time, skewSeconds int) (string, int64, error) {
    c, err := verify(secret, token, kindWorker, expectRoom, now, skewSeconds)
    if err != nil {
        return "", 0, err
    }
    return c.Room, c.Exp, nil
}

// GeneratePlayerToken signs a token the web app hands to a player so they can
// drive turns over HTTP.
func GeneratePlayerToken(secret, roomCode, identity string, expUnix int64) (string, error) {
    if identity == "" {
        return "", ErrTokenFormat
    }
    return sign(secret, Claims{Kind: kindPlayer, Room: roomCode, Identity: identity, Exp: expUnix})
}

// ValidatePlayerToken checks a player token for expectRoom and returns the
// player identity it was issued to.
func ValidatePlayerToken(secret, token, expectRoom string, now time.Time, skewSeconds int) (string, error) {
    c, err := verify(secret, token, kindPlayer, expectRoom, now, skewSeconds)
    if err != nil {
        return "", err
    }
    return c.Identity, nil
}

// Format: base64url(kind "." room "." identity "." exp_unix "." hex(hmac_sha256(secret, payload)))
// The identity may contain dots; the other fields may not.
func sign(secret string, c Claims) (string, error) {
    if strings.Contains(c.Room, ".") || c.Room == "" {
        return "", ErrTokenFormat
    }
    msg := c.Kind + "." + c.Room + "." + c.Identity + "." + strconv.FormatInt(c.Exp, 10)
    raw := msg + "." + mac(secret, msg)
    return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

func verify(secret, token, kind, expectRoom string, now time.Time, skewSeconds int) (Claims, error) {
    b, err := base64.RawURLEncoding.DecodeString(token)
    if err != nil {
        return Claims{}, ErrTokenFormat
    }
    s := string(b)
    sigAt := strings.LastIndex(s, ".")
    if sigAt < 0 {
        return Claims{}, ErrTokenFormat
    }
    msg, sigHex := s[:sigAt], s[sigAt+1:]

    expAt := strings.LastIndex(msg, ".")
    if expAt < 0 {
        return Claims{}, ErrTokenFormat
    }
    head := strings.SplitN(msg[:expAt], ".", 3)
    if len(head) != 3 {
        return Claims{}, ErrTokenFormat
    }
    exp, err := strconv.ParseInt(msg[expAt+1:], 10, 64)
    if err != nil {
        return Claims{}, ErrTokenFormat
    }
    c := Claims{Kind: head[0], Room: head[1], Identity: head[2], Exp: exp}
    if c.Kind != kind {
        return Claims{}, ErrTokenFormat
    }

    got, err := hex.DecodeString(sigHex)
    if err != nil {
        return Claims{}, ErrTokenFormat
    }
    want, _ := hex.DecodeString(mac(secret, msg))
    // constant-time compare
    if !hmac.Equal(want, got) {
        return Claims{}, ErrTokenSig
    }
    if expectRoom != "" && c.Room != expectRoom {
        return Claims{}, ErrTokenRoom
    }
    if now.Unix() > exp+int64(skewSeconds) {
        return Claims{}, ErrTokenExp
    }
    return c, nil
}

func mac(secret, msg string) string {
    m := hmac.New(sha256.New, []byte(secret))
    m.Write([]byte(msg))
    return hex.EncodeToString(m.Sum(nil))
}
