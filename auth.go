package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTTL       = 7 * 24 * time.Hour
	passwordCost   = 12
	passwordMinLen = 4
	usernameMinLen = 2
	usernameMaxLen = 16
	loginWindow    = time.Minute
	loginWindowCap = 10
)

// signingKeySetting is the settings-table key the HMAC secret lives under,
// so issued tokens survive server restarts.
const signingKeySetting = "jwt_secret"

// accountClaims is the token payload: the account id plus the registered
// expiry/issue fields jwt validates on parse. The username rides in Subject.
type accountClaims struct {
	Account int64 `json:"acct"`
	jwt.RegisteredClaims
}

// Auth issues and validates account tokens and guards the login path.
type Auth struct {
	db      *DB
	key     []byte
	limiter loginLimiter
}

func NewAuth(db *DB) *Auth {
	return &Auth{
		db:      db,
		key:     signingKey(db),
		limiter: loginLimiter{windows: make(map[string]*loginAttempts)},
	}
}

// signingKey returns the persisted HMAC secret, minting and storing a fresh
// one on first run. A db-less Auth gets an ephemeral key.
func signingKey(db *DB) []byte {
	if db != nil {
		if stored, err := hex.DecodeString(db.GetSetting(signingKeySetting)); err == nil && len(stored) == 32 {
			return stored
		}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("token key generation failed: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting(signingKeySetting, hex.EncodeToString(key)); err != nil {
			log.Printf("auth: persisting signing key: %v", err)
		}
	}
	return key
}

// Register creates an account and signs its first token.
func (a *Auth) Register(username, password string) (int64, string, error) {
	username = strings.TrimSpace(username)
	if n := len(username); n < usernameMinLen || n > usernameMaxLen {
		return 0, "", fmt.Errorf("username must be %d-%d characters", usernameMinLen, usernameMaxLen)
	}
	if len(password) < passwordMinLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", passwordMinLen)
	}

	taken, err := a.db.UsernameExists(username)
	if err != nil {
		return 0, "", fmt.Errorf("database error")
	}
	if taken {
		return 0, "", fmt.Errorf("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	id, err := a.db.CreateAccount(username, string(hash))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create account")
	}

	token, err := a.issue(id, username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return id, token, nil
}

// Login verifies credentials and signs a fresh token. Failures are
// deliberately indistinguishable between bad username and bad password.
func (a *Auth) Login(username, password, ip string) (int64, string, error) {
	if !a.limiter.allow(ip) {
		return 0, "", fmt.Errorf("too many login attempts, try again later")
	}

	acct, err := a.db.GetAccountByUsername(username)
	if err != nil {
		return 0, "", fmt.Errorf("database error")
	}
	if acct == nil || acct.PassHash == "" {
		return 0, "", fmt.Errorf("invalid username or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PassHash), []byte(password)) != nil {
		return 0, "", fmt.Errorf("invalid username or password")
	}

	token, err := a.issue(acct.ID, acct.Username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return acct.ID, token, nil
}

// ValidateToken checks a presented token and returns its account identity.
// Expiry is enforced by the registered claims during parsing.
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	var claims accountClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}
	if claims.Account == 0 || claims.Subject == "" {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	return claims.Account, claims.Subject, nil
}

func (a *Auth) issue(accountID int64, username string) (string, error) {
	now := time.Now()
	claims := accountClaims{
		Account: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// loginLimiter caps login attempts per IP over a fixed window.
type loginLimiter struct {
	mu      sync.Mutex
	windows map[string]*loginAttempts
}

type loginAttempts struct {
	count int
	until time.Time
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w := l.windows[ip]
	if w == nil || now.After(w.until) {
		l.windows[ip] = &loginAttempts{count: 1, until: now.Add(loginWindow)}
		return true
	}
	w.count++
	return w.count <= loginWindowCap
}
