package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"tpoms/internal/models"
	"tpoms/pkg/ratelimit"
	"tpoms/pkg/retry"
)

// ============ Логин Kite ============
//
// Порядок:
// 1. access token из учётных данных - используем как есть
// 2. иначе web-логин: /api/login (user id + пароль), /api/twofa (TOTP),
//    затем /connect/login отдаёт redirect с request_token
// 3. POST /session/token меняет request_token на access_token,
//    checksum = sha256(api_key + request_token + api_secret)

// maxLoginRedirects - сколько redirect'ов /connect/login проходим вручную
const maxLoginRedirects = 5

// Login устанавливает сессию Kite
func (z *Zerodha) Login(ctx context.Context) error {
	if z.token() != "" {
		z.logger.Info("using provided access token")
		return nil
	}

	if z.creds.APIKey == "" || z.creds.APISecret == "" || z.creds.UserID == "" ||
		z.creds.Password == "" || z.creds.TOTPSecret == "" {
		return fmt.Errorf("%w: missing required login credentials", ErrAuthFailed)
	}

	cfg := retry.LoginConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		z.logger.Warn("login retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	var accessToken string
	err := retry.Do(ctx, func() error {
		requestToken, err := z.requestToken(ctx)
		if err != nil {
			return err
		}
		accessToken, err = z.exchangeToken(ctx, requestToken)
		return err
	}, cfg)
	if err != nil {
		return err
	}

	z.mu.Lock()
	z.accessToken = accessToken
	z.mu.Unlock()

	z.logger.Info("login successful", zap.String("user_id", z.creds.UserID))
	return nil
}

type kiteLoginData struct {
	RequestID string `json:"request_id"`
	TwofaType string `json:"twofa_type"`
}

// requestToken проходит web-логин и достаёт request_token из redirect'а
func (z *Zerodha) requestToken(ctx context.Context) (string, error) {
	if err := z.opts.Limits.Wait(ctx, ratelimit.CategorySession); err != nil {
		return "", err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", retry.Permanent(err)
	}
	client := z.client.WithoutRedirects(jar)

	// Шаг 1: пароль
	form := url.Values{}
	form.Set("user_id", z.creds.UserID)
	form.Set("password", z.creds.Password)
	var login kiteLoginData
	if err := z.postLoginForm(ctx, client, "/api/login", form, &login); err != nil {
		return "", err
	}

	// Шаг 2: TOTP
	code, err := totp.GenerateCode(z.creds.TOTPSecret, z.opts.Now())
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("%w: totp: %v", ErrAuthFailed, err))
	}
	form = url.Values{}
	form.Set("user_id", z.creds.UserID)
	form.Set("request_id", login.RequestID)
	form.Set("twofa_value", code)
	form.Set("twofa_type", "totp")
	if err := z.postLoginForm(ctx, client, "/api/twofa", form, nil); err != nil {
		return "", err
	}

	// Шаг 3: connect redirect
	next := z.opts.LoginURL + "/connect/login?v=3&api_key=" + url.QueryEscape(z.creds.APIKey)
	for i := 0; i < maxLoginRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return "", retry.Permanent(err)
		}
		req.Header.Set("X-Kite-Version", kiteAPIVersion)

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		location := resp.Header.Get("Location")
		if location == "" {
			return "", retry.Permanent(fmt.Errorf("%w: connect login returned %d without redirect", ErrAuthFailed, resp.StatusCode))
		}
		loc, err := resp.Request.URL.Parse(location)
		if err != nil {
			return "", retry.Permanent(err)
		}
		if token := loc.Query().Get("request_token"); token != "" {
			return token, nil
		}
		next = loc.String()
	}

	return "", retry.Permanent(fmt.Errorf("%w: request_token not found in redirects", ErrAuthFailed))
}

// postLoginForm отправляет форму web-логина; неуспешный статус ответа - постоянная ошибка
func (z *Zerodha) postLoginForm(ctx context.Context, client *http.Client, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.opts.LoginURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", kiteAPIVersion)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env kiteEnvelope
	if err := models.JSON.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("login %s: invalid response (%d)", path, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return &BrokerError{Broker: z.Name(), Code: env.ErrorType, Message: env.Message}
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = "Invalid credentials"
		}
		return retry.Permanent(&BrokerError{Broker: z.Name(), Code: env.ErrorType, Message: msg, Original: ErrAuthFailed})
	}
	if out != nil && len(env.Data) > 0 {
		if err := models.JSON.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("login %s: decode data: %w", path, err)
		}
	}
	return nil
}

type kiteSession struct {
	AccessToken string `json:"access_token"`
}

// exchangeToken меняет request_token на access_token
func (z *Zerodha) exchangeToken(ctx context.Context, requestToken string) (string, error) {
	form := url.Values{}
	form.Set("api_key", z.creds.APIKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", kiteChecksum(z.creds.APIKey, requestToken, z.creds.APISecret))

	data, err := z.doRequest(ctx, ratelimit.CategorySession, http.MethodPost, "/session/token", form, false)
	if err != nil {
		var be *BrokerError
		if errors.As(err, &be) && be.Code != "NETWORK" {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	var session kiteSession
	if err := models.JSON.Unmarshal(data, &session); err != nil || session.AccessToken == "" {
		return "", retry.Permanent(fmt.Errorf("%w: session token response without access_token", ErrAuthFailed))
	}
	return session.AccessToken, nil
}

// kiteChecksum - sha256(api_key + request_token + api_secret) в hex
func kiteChecksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// Logout инвалидирует access token
func (z *Zerodha) Logout(ctx context.Context) error {
	token := z.token()
	if token == "" {
		return nil
	}
	q := url.Values{}
	q.Set("api_key", z.creds.APIKey)
	q.Set("access_token", token)
	_, err := z.doRequest(ctx, ratelimit.CategorySession, http.MethodDelete, "/session/token", q, true)

	z.mu.Lock()
	z.accessToken = ""
	z.mu.Unlock()

	return err
}
