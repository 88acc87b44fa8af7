package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	store     realtime.Store
	jwtSecret []byte
	tokenTTL  time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

func NewUserService(store realtime.Store, jwtSecret string, tokenTTL, opTimeout time.Duration) *UserService {
	if tokenTTL <= 0 {
		tokenTTL = 72 * time.Hour
	}
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &UserService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, _, err := s.accountByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrInvalidCredentials) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	err = s.store.Update(ctx, map[string]any{
		profilePath(id): models.Profile{Name: name, Email: email},
		accountPath(id): models.Account{Email: email, PasswordHash: string(hash), CreatedAt: s.now().UnixMilli()},
	})
	if err != nil {
		return nil, writeFailed("register", err)
	}
	return &models.UserInfo{ID: id, Name: name, Email: email}, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	id, account, err := s.accountByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	name, _, err := s.DisplayName(ctx, id)
	if err != nil {
		return nil, err
	}
	token, err := s.GenerateJWT(id, name)
	if err != nil {
		return nil, err
	}

	return &models.AuthResponse{
		Token:  token,
		Name:   name,
		UserID: id,
	}, nil
}

// accountByEmail returns ErrInvalidCredentials when no account matches.
func (s *UserService) accountByEmail(ctx context.Context, email string) (string, models.Account, error) {
	snap, err := s.store.Get(ctx, realtime.Join("accounts"))
	if err != nil {
		return "", models.Account{}, err
	}
	for _, c := range snap.Children() {
		var a models.Account
		if err := c.Decode(&a); err != nil {
			continue
		}
		if a.Email == email {
			return c.Key(), a, nil
		}
	}
	return "", models.Account{}, ErrInvalidCredentials
}

func (s *UserService) GenerateJWT(userID, name string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"name":    name,
		"exp":     s.now().Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *UserService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (s *UserService) Profile(ctx context.Context, id string) (*models.UserInfo, error) {
	if ValidUserID(id) != nil {
		return nil, ErrPeerNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	snap, err := s.store.Get(ctx, profilePath(id))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, ErrPeerNotFound
	}
	var p models.Profile
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	return &models.UserInfo{ID: id, Name: p.Name, Email: p.Email}, nil
}

// DisplayName reads /users/{id}/Nom. ok is false when the user has no name.
func (s *UserService) DisplayName(ctx context.Context, id string) (string, bool, error) {
	if ValidUserID(id) != nil {
		return "", false, nil
	}
	snap, err := s.store.Get(ctx, realtime.Join(profilePath(id), "Nom"))
	if err != nil {
		return "", false, err
	}
	name, ok := snap.Value().(string)
	if !ok || name == "" {
		return "", false, nil
	}
	return name, true, nil
}

// FindByName returns the id of the first user, by id order, whose display
// name matches name exactly.
func (s *UserService) FindByName(ctx context.Context, name string) (string, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Name == name {
			return u.ID, nil
		}
	}
	return "", ErrPeerNotFound
}

// ListUsers returns every profile ordered by id.
func (s *UserService) ListUsers(ctx context.Context) ([]models.UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	snap, err := s.store.Get(ctx, realtime.Join("users"))
	if err != nil {
		return nil, err
	}
	users := make([]models.UserInfo, 0, len(snap.Children()))
	for _, c := range snap.Children() {
		var p models.Profile
		if err := c.Decode(&p); err != nil {
			continue
		}
		users = append(users, models.UserInfo{ID: c.Key(), Name: p.Name, Email: p.Email})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
