package harvia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sauna2hap/internal/config"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Session owns the Cognito token lifecycle for the Harvia cloud account.
// Concurrent token requests share one in-flight refresh; invalid
// credentials surface as a fatal configuration error and are never
// retried, transient failures retry with bounded backoff.
type Session struct {
	client *Client
	cfg    config.SessionConfig
	logger *zap.Logger

	username string
	password string

	mu      sync.Mutex
	tokens  *tokenData
	group   singleflight.Group
	sleep   func(context.Context, time.Duration) error
	nowFunc func() time.Time
}

type tokenData struct {
	IdToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type cognitoAuthResult struct {
	AuthenticationResult struct {
		IdToken      string `json:"IdToken"`
		AccessToken  string `json:"AccessToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
}

type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func NewSession(client *Client, creds config.HarviaConfig, cfg config.SessionConfig, logger *zap.Logger) *Session {
	return &Session{
		client:   client,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "session")),
		username: creds.Username,
		password: creds.Password,
		sleep:    sleepCtx,
		nowFunc:  time.Now,
	}
}

// Token returns a valid id token, refreshing or re-authenticating when the
// cached one is within the refresh margin of expiry.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if t := s.tokens; t != nil && s.nowFunc().Add(s.cfg.RefreshMargin()).Before(t.Expiry) {
		token := t.IdToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.renew(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops cached tokens so the next Token call re-authenticates.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
}

func (s *Session) renew(ctx context.Context) (string, error) {
	backoff := service.NewBackoff(time.Second, 60*time.Second, 2)
	maxAttempts := int(s.cfg.MaxRetryAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoff.Next()); err != nil {
				return "", err
			}
		}

		tokens, err := s.authenticate(ctx)
		if err == nil {
			s.mu.Lock()
			s.tokens = tokens
			s.mu.Unlock()
			s.logger.Debug("session renewed", zap.Time("expiry", tokens.Expiry))
			return tokens.IdToken, nil
		}
		if errors.Is(err, domain.ErrConfiguration) {
			return "", err
		}
		lastErr = err
		s.logger.Warn("session renewal failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("%w: session renewal exhausted retries: %v", domain.ErrTransient, lastErr)
}

// authenticate tries the refresh-token grant first and falls back to a
// full password auth when no refresh token is cached or the grant is
// rejected.
func (s *Session) authenticate(ctx context.Context) (*tokenData, error) {
	info, err := s.client.Endpoint(ctx, "users")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	refreshToken := ""
	if s.tokens != nil {
		refreshToken = s.tokens.RefreshToken
	}
	s.mu.Unlock()

	if refreshToken != "" {
		tokens, err := s.initiateAuth(ctx, info.ClientId, "REFRESH_TOKEN_AUTH", map[string]string{
			"REFRESH_TOKEN": refreshToken,
		})
		if err == nil {
			// Cognito omits the refresh token from refresh grants.
			if tokens.RefreshToken == "" {
				tokens.RefreshToken = refreshToken
			}
			return tokens, nil
		}
		if errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrRateLimited) {
			return nil, err
		}
		s.logger.Debug("refresh grant rejected, falling back to password auth", zap.Error(err))
	}

	return s.initiateAuth(ctx, info.ClientId, "USER_PASSWORD_AUTH", map[string]string{
		"USERNAME": s.username,
		"PASSWORD": s.password,
	})
}

func (s *Session) initiateAuth(ctx context.Context, clientId, flow string, params map[string]string) (*tokenData, error) {
	body, err := json.Marshal(map[string]any{
		"AuthFlow":       flow,
		"ClientId":       clientId,
		"AuthParameters": params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}

	u := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", cognitoRegion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	req.Header.Set("content-type", "application/x-amz-json-1.1")
	req.Header.Set("x-amz-target", "AWSCognitoIdentityProviderService.InitiateAuth")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var cogErr cognitoError
		_ = json.NewDecoder(resp.Body).Decode(&cogErr)
		switch cogErr.Type {
		case "NotAuthorizedException", "UserNotFoundException", "PasswordResetRequiredException":
			if flow == "REFRESH_TOKEN_AUTH" {
				return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, cogErr.Message)
			}
			return nil, fmt.Errorf("%w: authentication rejected: %s", domain.ErrConfiguration, cogErr.Message)
		case "TooManyRequestsException":
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, cogErr.Message)
		default:
			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: cognito http %d", domain.ErrTransient, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: cognito http %d %s", domain.ErrMalformed, resp.StatusCode, cogErr.Type)
		}
	}

	var result cognitoAuthResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	ar := result.AuthenticationResult
	if ar.IdToken == "" {
		return nil, fmt.Errorf("%w: auth response carried no id token", domain.ErrMalformed)
	}

	return &tokenData{
		IdToken:      ar.IdToken,
		AccessToken:  ar.AccessToken,
		RefreshToken: ar.RefreshToken,
		Expiry:       s.tokenExpiry(ar.IdToken, ar.ExpiresIn),
	}, nil
}

// tokenExpiry prefers the id token's own exp claim and falls back to the
// advertised ExpiresIn.
func (s *Session) tokenExpiry(idToken string, expiresIn int) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return s.nowFunc().Add(time.Duration(expiresIn) * time.Second)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
