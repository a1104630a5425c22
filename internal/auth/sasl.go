// Package auth builds SASL client mechanisms for IMAP AUTHENTICATE:
// OAUTHBEARER, XOAUTH2, PLAIN, and LOGIN, selected by capability and
// caller preference.
//
// Mechanism framing (the base64 encoding, the initial response, the
// continuation handshake) is delegated to github.com/emersion/go-sasl;
// this package only adds the selection policy and the IMAP-specific
// LOGINDISABLED fallback rule.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// Mechanism identifies a SASL mechanism this package knows how to build.
type Mechanism string

const (
	MechanismPlain       Mechanism = "PLAIN"
	MechanismLogin       Mechanism = "LOGIN"
	MechanismOAuthBearer Mechanism = "OAUTHBEARER"
	MechanismXOAuth2     Mechanism = "XOAUTH2"
)

// preferenceOrder is the order mechanisms are tried in when the caller
// hasn't pinned one: strongest/least-legacy first.
var preferenceOrder = []Mechanism{MechanismOAuthBearer, MechanismXOAuth2, MechanismPlain, MechanismLogin}

// ErrNoSupportedMechanism is returned when none of the server's advertised
// AUTH=* mechanisms can be satisfied by the supplied credentials.
var ErrNoSupportedMechanism = errors.New("auth: no supported SASL mechanism advertised by server")

// Credentials carries everything any supported mechanism might need.
// Unused fields for a given mechanism are ignored.
type Credentials struct {
	Username string
	Password string
	AuthzID  string // optional authorization identity for PLAIN
	Token    string // OAuth bearer / access token for OAUTHBEARER and XOAUTH2
	Host     string // server host, used by OAUTHBEARER's GS2 header
	Port     int    // server port, used by OAUTHBEARER's GS2 header
}

// Select picks the mechanism to use given the server's advertised AUTH=*
// capabilities and the caller's preference (empty string means "best
// available"). It returns ErrNoSupportedMechanism if nothing usable is
// advertised, and a descriptive error if the caller's preference is
// pinned to a mechanism the credentials can't satisfy.
func Select(advertised []string, prefer Mechanism, creds Credentials) (Mechanism, error) {
	set := make(map[Mechanism]bool, len(advertised))
	for _, a := range advertised {
		set[Mechanism(strings.ToUpper(a))] = true
	}

	if prefer != "" {
		if !set[prefer] {
			return "", fmt.Errorf("auth: server does not advertise AUTH=%s", prefer)
		}
		if err := checkCredentials(prefer, creds); err != nil {
			return "", err
		}
		return prefer, nil
	}

	for _, m := range preferenceOrder {
		if !set[m] {
			continue
		}
		if checkCredentials(m, creds) == nil {
			return m, nil
		}
	}
	return "", ErrNoSupportedMechanism
}

func checkCredentials(m Mechanism, creds Credentials) error {
	switch m {
	case MechanismOAuthBearer, MechanismXOAuth2:
		if creds.Token == "" {
			return fmt.Errorf("auth: %s requires a token", m)
		}
	case MechanismPlain, MechanismLogin:
		if creds.Username == "" || creds.Password == "" {
			return fmt.Errorf("auth: %s requires a username and password", m)
		}
	}
	return nil
}

// NewClient builds the sasl.Client for the given mechanism. The returned
// client's Start() produces the AUTHENTICATE command's mechanism name and
// initial response; Next() answers each base64 server challenge.
func NewClient(m Mechanism, creds Credentials) (sasl.Client, error) {
	switch m {
	case MechanismPlain:
		return sasl.NewPlainClient(creds.AuthzID, creds.Username, creds.Password), nil
	case MechanismLogin:
		return sasl.NewLoginClient(creds.Username, creds.Password), nil
	case MechanismOAuthBearer:
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: creds.Username,
			Host:     creds.Host,
			Port:     creds.Port,
			Token:    creds.Token,
		}), nil
	case MechanismXOAuth2:
		return sasl.NewXoauth2Client(creds.Username, creds.Token), nil
	default:
		return nil, fmt.Errorf("auth: unknown mechanism %q", m)
	}
}

// IsOAuthBearerError reports whether challenge is an OAUTHBEARER error
// response (a JSON object rather than an empty continuation), per RFC 7628
// §3.2.3: the client must respond with an empty message to abort cleanly.
func IsOAuthBearerError(challenge []byte) bool {
	return len(challenge) > 0 && challenge[0] == '{'
}
