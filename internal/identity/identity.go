// Package identity signs users in with one-time passcodes and issues the
// session tokens that carry a Principal into every service call.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartrust/internal/domain"
	"smartrust/internal/events"
	"smartrust/internal/repo"
)

var (
	ErrOTPExpired    = errors.New("otp has expired")
	ErrOTPInvalid    = errors.New("invalid or already used code")
	ErrInvalidEmail  = errors.New("a valid email address is required")
	ErrInvalidToken  = errors.New("invalid session token")
	ErrNotConfigured = errors.New("session signing secret not configured")
)

// CooldownError is returned when a new code is requested too soon.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp requested too recently, retry in %s", e.RetryAfter.Round(time.Second))
}

// Principal is the authenticated caller. A nil *Principal means anonymous.
type Principal struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Source string `json:"source"`
}

// Session is returned on sign-in. SignOut is the caller dropping the token.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      CompleteUser `json:"user"`
}

// CompleteUser is the signed-in user as the application sees it: the users
// row plus how the current session was established.
type CompleteUser struct {
	ID          int64   `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Photo       *string `json:"photo,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	SignedInVia string  `json:"signed_in_via"`
}

// Mailer delivers passcodes.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error
}

// LogMailer writes codes to the log instead of sending mail.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) SendOTP(_ context.Context, email, code string, expiresAt time.Time) error {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("one-time passcode issued", zap.String("email", email), zap.String("code", code), zap.Time("expires_at", expiresAt))
	return nil
}

// Config holds sign-in timings. A zero Cooldown disables the resend limit.
type Config struct {
	Secret     string
	OTPTTL     time.Duration
	Cooldown   time.Duration
	SessionTTL time.Duration
}

type Service struct {
	Repo   repo.Repo
	Mailer Mailer
	Config Config
	Log    *zap.Logger
	Now    func() time.Time
	Rand   io.Reader
	// Audit, when set, records sign-ins in the event log.
	Audit  *events.Writer
}

const (
	defaultOTPTTL     = 10 * time.Minute
	defaultSessionTTL = 7 * 24 * time.Hour
)

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func (s Service) cfg() Config {
	c := s.Config
	if c.OTPTTL <= 0 {
		c.OTPTTL = defaultOTPTTL
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	return c
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func hashCode(challengeID, code string) string {
	sum := sha256.Sum256([]byte(challengeID + ":" + code))
	return hex.EncodeToString(sum[:])
}

func (s Service) newCode() (string, error) {
	src := s.Rand
	if src == nil {
		src = rand.Reader
	}
	n, err := rand.Int(src, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestOTP issues a 6 digit code for email and hands it to the mailer. A
// second request within the cooldown is refused with *CooldownError.
func (s Service) RequestOTP(ctx context.Context, rawEmail string) (domain.OTPChallenge, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return domain.OTPChallenge{}, err
	}
	cfg := s.cfg()
	now := s.now()
	if last, err := s.Repo.LatestOTP(ctx, email); err == nil {
		issued, perr := time.Parse(time.RFC3339, last.CreatedAt)
		if perr == nil && now.Sub(issued) < cfg.Cooldown {
			return domain.OTPChallenge{}, &CooldownError{RetryAfter: cfg.Cooldown - now.Sub(issued)}
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.OTPChallenge{}, err
	}
	code, err := s.newCode()
	if err != nil {
		return domain.OTPChallenge{}, err
	}
	ch := domain.OTPChallenge{
		ID:        uuid.NewString(),
		Email:     email,
		ExpiresAt: now.Add(cfg.OTPTTL).Format(time.RFC3339),
		CreatedAt: now.Format(time.RFC3339),
	}
	ch.CodeHash = hashCode(ch.ID, code)
	if err := s.Repo.InsertOTP(ctx, ch); err != nil {
		return domain.OTPChallenge{}, err
	}
	mailer := s.Mailer
	if mailer == nil {
		mailer = LogMailer{Log: s.logger()}
	}
	if err := mailer.SendOTP(ctx, email, code, now.Add(cfg.OTPTTL)); err != nil {
		s.logger().Error("otp delivery failed", zap.String("email", email), zap.Error(err))
		return domain.OTPChallenge{}, fmt.Errorf("deliver otp: %w", err)
	}
	return ch, nil
}

// VerifyOTP redeems the latest code for email, creating the users row on
// first sign-in, and returns a new session.
func (s Service) VerifyOTP(ctx context.Context, rawEmail, code string) (Session, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return Session{}, err
	}
	ch, err := s.Repo.LatestOTP(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, ErrOTPInvalid
	}
	if err != nil {
		return Session{}, err
	}
	if ch.ConsumedAt != nil {
		return Session{}, ErrOTPInvalid
	}
	now := s.now()
	expires, err := time.Parse(time.RFC3339, ch.ExpiresAt)
	if err != nil || !now.Before(expires) {
		return Session{}, ErrOTPExpired
	}
	if !hmac.Equal([]byte(hashCode(ch.ID, strings.TrimSpace(code))), []byte(ch.CodeHash)) {
		return Session{}, ErrOTPInvalid
	}
	if err := s.Repo.ConsumeOTP(ctx, ch.ID, now.Format(time.RFC3339)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Session{}, ErrOTPInvalid
		}
		return Session{}, err
	}
	user, err := s.Repo.EnsureUser(ctx, email, "", nil)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	s.recordSignIn(ctx, user, "otp")
	return s.Issue(user, "otp")
}

// DevLogin signs in without a passcode. Only wired when explicitly enabled.
func (s Service) DevLogin(ctx context.Context, rawEmail, displayName string) (Session, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return Session{}, err
	}
	user, err := s.Repo.EnsureUser(ctx, email, strings.TrimSpace(displayName), nil)
	if err != nil {
		return Session{}, err
	}
	s.recordSignIn(ctx, user, "dev")
	return s.Issue(user, "dev")
}

func (s Service) recordSignIn(ctx context.Context, user domain.User, source string) {
	if s.Audit == nil {
		return
	}
	id := strconv.FormatInt(user.ID, 10)
	if err := s.Audit.Append(ctx, nil, events.UserSignedIn, 0, "user", id, "user:"+id, events.EventPayload{"source": source}); err != nil {
		s.logger().Warn("sign-in event not recorded", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

type claims struct {
	jwt.RegisteredClaims
	Email  string `json:"email"`
	Source string `json:"src,omitempty"`
}

// Issue signs a session token for user.
func (s Service) Issue(user domain.User, source string) (Session, error) {
	if strings.TrimSpace(s.Config.Secret) == "" {
		return Session{}, ErrNotConfigured
	}
	now := s.now()
	exp := now.Add(s.cfg().SessionTTL)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email:  user.Email,
		Source: source,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.Config.Secret))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, User: complete(user, source)}, nil
}

// Authenticate validates a session token.
func (s Service) Authenticate(token string) (*Principal, error) {
	if strings.TrimSpace(s.Config.Secret) == "" {
		return nil, ErrNotConfigured
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(s.Config.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}
	source := c.Source
	if source == "" {
		source = "jwt"
	}
	return &Principal{UserID: id, Email: c.Email, Source: source}, nil
}

// AuthenticateAPIKey resolves a long-lived API key to its owner.
func (s Service) AuthenticateAPIKey(ctx context.Context, key string) (*Principal, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidToken
	}
	k, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return nil, ErrInvalidToken
	}
	u, err := s.Repo.GetUser(ctx, k.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: u.ID, Email: u.Email, Source: "api_key"}, nil
}

// CompleteUser loads the users row behind p.
func (s Service) CompleteUser(ctx context.Context, p *Principal) (CompleteUser, error) {
	if p == nil {
		return CompleteUser{}, ErrInvalidToken
	}
	u, err := s.Repo.GetUser(ctx, p.UserID)
	if err != nil {
		return CompleteUser{}, err
	}
	return complete(u, p.Source), nil
}

// UpdateProfile changes the display name and photo URL of the signed-in user.
// An empty display name falls back to the email local part.
func (s Service) UpdateProfile(ctx context.Context, p *Principal, displayName string, photo *string) (CompleteUser, error) {
	if p == nil {
		return CompleteUser{}, ErrInvalidToken
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = repo.DefaultDisplayName(p.Email)
	}
	u, err := s.Repo.UpdateUserProfile(ctx, p.UserID, displayName, photo)
	if err != nil {
		return CompleteUser{}, err
	}
	return complete(u, p.Source), nil
}

func complete(u domain.User, source string) CompleteUser {
	return CompleteUser{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Photo:       u.Photo,
		CreatedAt:   u.CreatedAt,
		SignedInVia: source,
	}
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the caller attached to ctx, or nil when anonymous.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
