package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// CredentialProvider supplies the password for a given username.
// Implementations (parameter, OS keyring, console prompt, web UI stub)
// live in internal/credentials; the core only depends on this interface.
type CredentialProvider interface {
	Credentials(ctx context.Context, username string) (password string, err error)
}

// MfaProvider supplies a one-time multi-factor code when the service
// challenges a login.
type MfaProvider interface {
	MfaCode(ctx context.Context, username string) (code string, err error)
}

// SessionStore persists and retrieves cookie/session state across
// process runs, keyed by username (spec.md §6 Session store).
type SessionStore interface {
	Load(username string) (map[string]string, error)
	Save(username string, headers map[string]string) error
	Clear(username string) error
}

// Authenticator drives the login handshake: try the stored session
// first, fall back to password + optional MFA, and persist the result.
type Authenticator struct {
	client   *Client
	store    SessionStore
	creds    CredentialProvider
	mfa      MfaProvider
	domain   string // "com" or "cn"
	logger   *slog.Logger
}

// NewAuthenticator builds an Authenticator wired to the given session
// store, credential provider, and MFA provider.
func NewAuthenticator(client *Client, store SessionStore, creds CredentialProvider, mfa MfaProvider, domain string, logger *slog.Logger) *Authenticator {
	return &Authenticator{client: client, store: store, creds: creds, mfa: mfa, domain: domain, logger: logger}
}

// Session implements SessionSource by loading persisted headers; it is
// installed on a Client with Client.SetSession so every request is
// authenticated.
type Session struct {
	headers map[string]string
}

// Headers implements SessionSource.
func (s *Session) Headers(_ context.Context) (map[string]string, error) {
	if s.headers == nil {
		return nil, ErrAuthExpired
	}

	return s.headers, nil
}

// Authenticate returns a usable Session, trying the stored session
// before falling back to interactive credentials + MFA. On success the
// new session is persisted to the store.
func (a *Authenticator) Authenticate(ctx context.Context, username string) (*Session, error) {
	if stored, err := a.store.Load(username); err == nil && len(stored) > 0 {
		a.logger.Debug("reusing stored session", slog.String("username", username))

		return &Session{headers: stored}, nil
	}

	a.logger.Info("starting interactive authentication", slog.String("username", username))

	password, err := a.creds.Credentials(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("icloud: obtaining credentials: %w", err)
	}

	headers, mfaRequired, err := a.login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	if mfaRequired {
		code, mfaErr := a.mfa.MfaCode(ctx, username)
		if mfaErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMfaFailed, mfaErr)
		}

		headers, err = a.verifyMfa(ctx, username, code)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMfaFailed, err)
		}
	}

	if err := a.store.Save(username, headers); err != nil {
		a.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}

	return &Session{headers: headers}, nil
}

// Reauthenticate discards the stored session and performs a full
// interactive login, used by the sync loop when the service reports
// ErrAuthExpired mid-pass.
func (a *Authenticator) Reauthenticate(ctx context.Context, username string) (*Session, error) {
	_ = a.store.Clear(username)

	return a.Authenticate(ctx, username)
}

// login posts the initial credential challenge. Returns whether the
// service is requesting an MFA code.
func (a *Authenticator) login(ctx context.Context, username, password string) (map[string]string, bool, error) {
	payload, _ := json.Marshal(loginRequest{AppleID: username, Password: password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.signinURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return nil, false, WrapTransportError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return headersFromResponse(resp), false, nil
	case http.StatusConflict:
		// 409 signals the account requires two-factor verification.
		return headersFromResponse(resp), true, nil
	default:
		return nil, false, &APIError{StatusCode: resp.StatusCode, Err: classifyStatus(resp.StatusCode)}
	}
}

func (a *Authenticator) verifyMfa(ctx context.Context, username, code string) (map[string]string, error) {
	payload, _ := json.Marshal(mfaRequest{SecurityCode: code})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.verifyURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		return nil, WrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, &APIError{StatusCode: resp.StatusCode, Err: ErrMfaFailed}
	}

	_ = username

	return headersFromResponse(resp), nil
}

func (a *Authenticator) signinURL() string {
	return "https://idmsa.apple." + a.tld() + "/appleauth/auth/signin"
}

func (a *Authenticator) verifyURL() string {
	return "https://idmsa.apple." + a.tld() + "/appleauth/auth/verify/trusteddevice/securitycode"
}

func (a *Authenticator) tld() string {
	if a.domain == "cn" {
		return "com.cn"
	}

	return "com"
}

func headersFromResponse(resp *http.Response) map[string]string {
	headers := make(map[string]string)

	for _, c := range resp.Cookies() {
		headers["Cookie-"+c.Name] = c.Value
	}

	if sid := resp.Header.Get("X-Apple-Session-Token"); sid != "" {
		headers["X-Apple-Session-Token"] = sid
	}

	return headers
}

type loginRequest struct {
	AppleID  string `json:"accountName"`
	Password string `json:"password"`
}

type mfaRequest struct {
	SecurityCode string `json:"securityCode"`
}
