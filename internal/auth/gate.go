package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Gate authenticates callers against the stored credentials and issues the
// signed token used by the auth cookie. The username it yields is the stable
// key every ownership check is performed with.
type Gate struct {
	cfg *Config
}

// NewGate wraps a loaded credentials config.
func NewGate(cfg *Config) *Gate {
	return &Gate{cfg: cfg}
}

// Authenticate verifies a username/password pair against the stored bcrypt
// hash. It returns the display name on success.
func (g *Gate) Authenticate(username, password string) (string, bool) {
	rec, ok := g.cfg.Credentials.Usernames[username]
	if !ok {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return "", false
	}
	return rec.Name, true
}

// DisplayName resolves the display name for a known username.
func (g *Gate) DisplayName(username string) string {
	return g.cfg.Credentials.Usernames[username].Name
}

// CookieName returns the name of the auth cookie.
func (g *Gate) CookieName() string {
	return g.cfg.Cookie.Name
}

// Expiry returns how long issued tokens stay valid.
func (g *Gate) Expiry() time.Duration {
	return time.Duration(g.cfg.Cookie.ExpiryDays) * 24 * time.Hour
}

// IssueToken returns a signed token carrying the username and an expiry
// timestamp, HMAC-SHA256 signed with the cookie key.
func (g *Gate) IssueToken(username string, now time.Time) string {
	expiry := now.Add(g.Expiry()).Unix()
	payload := username + "|" + strconv.FormatInt(expiry, 10)
	token := payload + "|" + g.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

// ParseToken validates a token and returns the username it carries. It
// reports false for malformed, tampered, or expired tokens.
func (g *Gate) ParseToken(token string, now time.Time) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}

	// Usernames may not contain '|', so the payload splits cleanly.
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", false
	}
	username, expiryStr, sig := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(sig), []byte(g.sign(username+"|"+expiryStr))) {
		return "", false
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil || now.Unix() >= expiry {
		return "", false
	}
	if _, known := g.cfg.Credentials.Usernames[username]; !known {
		return "", false
	}
	return username, true
}

func (g *Gate) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.Cookie.Key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
