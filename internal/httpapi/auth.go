package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"counterpos/backend/internal/domain"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/terminal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"

	tokenIssuer      = "counterpos"
	userStoreTimeout = 5 * time.Second
	minUsernameLen   = 4
	minPasswordLen   = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidCashier     = errors.New("invalid cashier")
)

// UserStore persists counter staff and the terminals each cashier may drive.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	AssignTerminals(ctx context.Context, username string, terminals []string) error
}

type staffMember struct {
	hash      string
	role      string
	active    bool
	terminals []string
	createdAt time.Time
}

func (m staffMember) view(username string) domain.CashierUser {
	return domain.CashierUser{
		Username:  username,
		Role:      m.role,
		Active:    m.active,
		Terminals: append([]string{}, m.terminals...),
		CreatedAt: m.createdAt,
	}
}

// counterClaims pins a token to the counters its holder was assigned at
// login. An empty list means any counter.
type counterClaims struct {
	jwtlib.RegisteredClaims
	Role      string   `json:"role"`
	Terminals []string `json:"terminals,omitempty"`
}

// AuthManager signs staff into counters and guards reconciliation with the
// manager PIN.
type AuthManager struct {
	secret  []byte
	ttl     time.Duration
	pinHash []byte
	users   UserStore

	mu    sync.RWMutex
	staff map[string]staffMember
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret: []byte(secret),
		ttl:    tokenTTL,
		users:  users,
		staff:  make(map[string]staffMember),
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[auth] WARN: manager PIN disabled: %v", err)
		} else {
			a.pinHash = hash
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), userStoreTimeout)
	defer cancel()
	a.refresh(ctx)
	return a
}

// Login reloads staff first so accounts created by another process can
// sign in without a restart.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.refresh(ctx)
	username := normalizeUsername(req.Username)
	member, ok := a.member(username)
	if !ok || !matchesHash(member.hash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !member.active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, counterClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:      member.role,
		Terminals: member.terminals,
	}).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        member.role,
		Terminals:   member.terminals,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims counterClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || claims.Subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role, Terminals: claims.Terminals}, nil
}

// canOperate reports whether actor may drive terminalID. Admins and
// unassigned cashiers may use any counter.
func canOperate(actor domain.Actor, terminalID string) bool {
	if actor.Role == RoleAdmin || len(actor.Terminals) == 0 {
		return true
	}
	return slices.Contains(actor.Terminals, terminalID)
}

// ValidateManagerPIN guards reconciliation. An unset PIN never validates.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if len(a.pinHash) == 0 || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < minUsernameLen:
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidCashier, minUsernameLen)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", ErrInvalidCashier)
	case len(strings.TrimSpace(req.Password)) < minPasswordLen:
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCashier, minPasswordLen)
	}
	terminals, err := normalizeTerminals(req.Terminals)
	if err != nil {
		return domain.CashierUser{}, err
	}

	a.refresh(ctx)
	if _, exists := a.member(username); exists {
		return domain.CashierUser{}, fmt.Errorf("%w: username already exists", ErrInvalidCashier)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	member := staffMember{
		hash:      string(hash),
		role:      RoleCashier,
		active:    true,
		terminals: terminals,
		createdAt: time.Now().UTC(),
	}
	if a.users != nil {
		err := a.users.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  member.hash,
			Role:      member.role,
			Active:    member.active,
			Terminals: terminals,
			CreatedAt: member.createdAt,
		})
		if errors.Is(err, store.ErrConflict) {
			return domain.CashierUser{}, fmt.Errorf("%w: username already exists", ErrInvalidCashier)
		}
		if err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.staff[username] = member
	a.mu.Unlock()
	return member.view(username), nil
}

// AssignTerminals replaces the counters a cashier may drive. Tokens issued
// before the change keep their old list until they expire.
func (a *AuthManager) AssignTerminals(ctx context.Context, username string, terminals []string) (domain.CashierUser, error) {
	username = normalizeUsername(username)
	terminals, err := normalizeTerminals(terminals)
	if err != nil {
		return domain.CashierUser{}, err
	}
	a.refresh(ctx)
	member, ok := a.member(username)
	if !ok || member.role != RoleCashier {
		return domain.CashierUser{}, fmt.Errorf("%w: cashier %s", store.ErrNotFound, username)
	}
	if a.users != nil {
		if err := a.users.AssignTerminals(ctx, username, terminals); err != nil {
			return domain.CashierUser{}, err
		}
	}

	member.terminals = terminals
	a.mu.Lock()
	a.staff[username] = member
	a.mu.Unlock()
	return member.view(username), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.refresh(ctx)
	a.mu.RLock()
	out := make([]domain.CashierUser, 0, len(a.staff))
	for username, member := range a.staff {
		if member.role == RoleCashier {
			out = append(out, member.view(username))
		}
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (a *AuthManager) member(username string) (staffMember, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.staff[username]
	return m, ok
}

// refresh mirrors the user store into the staff cache. Accounts still
// holding a plain-text password are rehashed in place.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.users == nil {
		return
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: reload users: %v", err)
		return
	}

	loaded := make(map[string]staffMember, len(accounts))
	for _, account := range accounts {
		username := normalizeUsername(account.Username)
		if username == "" {
			continue
		}
		hash := account.Password
		if !isBcrypt(hash) {
			hash = a.upgradeLegacy(ctx, username, hash)
		}
		loaded[username] = staffMember{
			hash:      hash,
			role:      account.Role,
			active:    account.Active,
			terminals: account.Terminals,
			createdAt: account.CreatedAt,
		}
	}

	a.mu.Lock()
	for username, member := range loaded {
		a.staff[username] = member
	}
	a.mu.Unlock()
}

func (a *AuthManager) upgradeLegacy(ctx context.Context, username string, plain string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return plain
	}
	if err := a.users.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		log.Printf("[auth] WARN: rehash password of %s: %v", username, err)
	}
	return string(hash)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// normalizeTerminals trims, dedupes and sorts an assignment list.
func normalizeTerminals(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !terminal.ValidTerminalID(id) {
			return nil, fmt.Errorf("%w: invalid terminal id %q", ErrInvalidCashier, id)
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func matchesHash(hash string, plain string) bool {
	if !isBcrypt(hash) || strings.TrimSpace(plain) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func isBcrypt(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
