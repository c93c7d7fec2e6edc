package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Session cookie: base64(json payload) + "." + hex(hmac-sha256(secret, json)).
// HttpOnly, SameSite=Lax, 7-day expiry. Verification is constant-time on the
// signature before the payload is even parsed, so a forged cookie learns
// nothing from response timing.

const (
	sessionCookie = "session"
	sessionTTL    = 7 * 24 * time.Hour
)

var errBadSession = errors.New("invalid session")

// Session is the signed cookie payload.
type Session struct {
	UserID    int64  `json:"userId"`
	DiscordID string `json:"discordId"`
	IsAdmin   bool   `json:"isAdmin"`
	Expires   int64  `json:"expires"` // unix seconds
}

// Sessions mints and verifies session cookies.
type Sessions struct {
	secret []byte
}

func NewSessions(secret string) *Sessions {
	return &Sessions{secret: []byte(secret)}
}

// Encode signs a session into cookie form.
func (s *Sessions) Encode(sess Session) string {
	payload, _ := json.Marshal(sess)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + s.sign(payload)
}

// Decode verifies and parses a cookie value. Signature first, constant-time;
// then expiry.
func (s *Sessions) Decode(value string) (Session, error) {
	var sess Session
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return sess, errBadSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return sess, errBadSession
	}
	if subtle.ConstantTimeCompare([]byte(s.sign(payload)), []byte(sig)) != 1 {
		return sess, errBadSession
	}
	if err := json.Unmarshal(payload, &sess); err != nil {
		return sess, errBadSession
	}
	if time.Now().Unix() >= sess.Expires {
		return sess, errBadSession
	}
	return sess, nil
}

func (s *Sessions) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue sets the session cookie on a response.
func (s *Sessions) Issue(c *gin.Context, userID int64, discordID string, isAdmin bool) {
	sess := Session{
		UserID:    userID,
		DiscordID: discordID,
		IsAdmin:   isAdmin,
		Expires:   time.Now().Add(sessionTTL).Unix(),
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.Encode(sess),
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireSession rejects requests without a valid session cookie. The 401
// body never distinguishes missing, malformed and expired cookies.
func (s *Sessions) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(sessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		sess, err := s.Decode(cookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set("session", sess)
		c.Next()
	}
}

// RequireAdmin runs after RequireSession and additionally gates on isAdmin.
func (s *Sessions) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("session")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !v.(Session).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// CurrentSession reads the session RequireSession stored on the context.
func CurrentSession(c *gin.Context) (Session, error) {
	v, ok := c.Get("session")
	if !ok {
		return Session{}, fmt.Errorf("no session on context")
	}
	return v.(Session), nil
}
