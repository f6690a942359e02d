// Package credentials persists the signed-in session (access token,
// refresh token and user profile) and supplies it as an oauth2 token.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/eventlive/pkg/models"
)

// Keys under which the session values are persisted.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var storeKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNoSession is returned by Load when nothing is stored.
var ErrNoSession = errors.New("no stored session")

// Session is the persisted client state. The three values are always saved
// and cleared together.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *models.User
}

// Store persists a Session.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Clear(ctx context.Context) error
}

// SessionFromAuth builds a session from a signup, login or refresh result.
func SessionFromAuth(res *models.AuthResult) *Session {
	user := res.User()
	return &Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         &user,
	}
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	return &out
}

func encodeSession(s *Session) (map[string]string, error) {
	if s == nil || s.AccessToken == "" {
		return nil, errors.New("session has no access token")
	}
	values := map[string]string{
		KeyAccessToken:  s.AccessToken,
		KeyRefreshToken: s.RefreshToken,
	}
	if s.User != nil {
		data, err := json.Marshal(s.User)
		if err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
		values[KeyUser] = string(data)
	} else {
		values[KeyUser] = ""
	}
	return values, nil
}

func decodeSession(values map[string]string) (*Session, error) {
	access := values[KeyAccessToken]
	if access == "" {
		return nil, ErrNoSession
	}
	s := &Session{AccessToken: access, RefreshToken: values[KeyRefreshToken]}
	if raw := values[KeyUser]; raw != "" {
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		s.User = &user
	}
	return s, nil
}
