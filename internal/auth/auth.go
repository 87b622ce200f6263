package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles user authentication
type AuthService struct {
	Store  db.Store
	secret []byte
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(store db.Store, secret string) *AuthService {
	return &AuthService{Store: store, secret: []byte(secret)}
}

// Register creates a new user with hashed password. The store creates the
// user's zero-balance wallet in the same transaction, so a registered user
// always has a wallet.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Store.CreateUser(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts user ID from JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(float64)
		if !ok {
			return 0, fmt.Errorf("token missing user_id claim")
		}
		return int(userID), nil
	}
	return 0, fmt.Errorf("invalid token")
}
