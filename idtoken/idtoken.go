// Package idtoken contains the claims of OpenID Connect ID tokens.
package idtoken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Claims are the claims of an ID token issued at the token endpoint.
//
// https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type Claims struct {
	// REQUIRED. Issuer Identifier for the Issuer of the response.
	Issuer string `json:"iss,omitempty"`
	// REQUIRED. Subject Identifier, the end-user that authorized the
	// request the code was issued for.
	Subject string `json:"sub,omitempty"`
	// REQUIRED. Audience(s) that this ID Token is intended for. It contains
	// the client_id the code was issued to.
	Audience Audience `json:"aud,omitempty"`
	// REQUIRED. Expiration time on or after which the ID Token MUST NOT be
	// accepted for processing.
	Expiry UnixTime `json:"exp,omitempty"`
	// REQUIRED. Time at which the JWT was issued.
	IssuedAt UnixTime `json:"iat,omitempty"`
	// Time when the End-User authentication occurred.
	AuthTime UnixTime `json:"auth_time,omitempty"`
	// Passed through unmodified from the authorization request.
	Nonce string `json:"nonce,omitempty"`
	// Access Token hash value. Its value is the base64url encoding of the
	// left-most half of the hash of the octets of the ASCII representation of
	// the access_token value, where the hash algorithm used is the hash
	// algorithm used in the alg Header Parameter of the ID Token's JOSE
	// Header.
	//
	// https://openid.net/specs/openid-connect-core-1_0.html#CodeIDToken
	AccessTokenHash string `json:"at_hash,omitempty"`
	// OPTIONAL. Authorized party - the party to which the ID Token was issued.
	AZP string `json:"azp,omitempty"`

	// Extra are additional claims, that the standard claims will be merged in
	// to. If a key is overridden here, the struct value wins.
	Extra map[string]interface{} `json:"-"`

	// keep the raw data here, so we can unmarshal in to custom structs
	raw json.RawMessage
}

func (i Claims) MarshalJSON() ([]byte, error) {
	// avoid recursing on this method
	type ids Claims
	id := ids(i)

	sj, err := json.Marshal(&id)
	if err != nil {
		return nil, err
	}

	sm := map[string]interface{}{}
	if err := json.Unmarshal(sj, &sm); err != nil {
		return nil, err
	}

	om := map[string]interface{}{}

	for k, v := range i.Extra {
		om[k] = v
	}

	for k, v := range sm {
		om[k] = v
	}

	return json.Marshal(om)
}

func (i *Claims) UnmarshalJSON(b []byte) error {
	type ids Claims
	id := ids{}

	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}

	em := map[string]interface{}{}

	if err := json.Unmarshal(b, &em); err != nil {
		return err
	}

	for _, f := range []string{
		"iss", "sub", "aud", "exp", "iat", "auth_time", "nonce", "at_hash", "azp",
	} {
		delete(em, f)
	}

	if len(em) > 0 {
		id.Extra = em
	}

	id.raw = b

	*i = Claims(id)

	return nil
}

// Unmarshal unpacks the raw JSON data from this token into the passed type.
func (i *Claims) Unmarshal(into interface{}) error {
	if i.raw == nil {
		// gracefully handle the weird case where the user might want to call
		// this on a struct of their own creation, rather than one retrieved
		// from a remote source
		b, err := json.Marshal(i)
		if err != nil {
			return err
		}
		i.raw = b
	}
	return json.Unmarshal(i.raw, into)
}

// Audience represents a OIDC ID Token's Audience field.
type Audience []string

// Contains returns true if a passed audence is found in the token's set
func (a Audience) Contains(aud string) bool {
	for _, ia := range a {
		if ia == aud {
			return true
		}
	}
	return false
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var ua interface{}
	if err := json.Unmarshal(b, &ua); err != nil {
		return err
	}

	switch ja := ua.(type) {
	case string:
		*a = []string{ja}
	case []interface{}:
		aa := make([]string, len(ja))
		for i, ia := range ja {
			sa, ok := ia.(string)
			if !ok {
				return fmt.Errorf("failed to unmarshal audience, expected []string but found %T", ia)
			}
			aa[i] = sa
		}
		*a = aa
	default:
		return fmt.Errorf("failed to unmarshal audience, expected string or []string but found %T", ua)
	}

	return nil
}

// UnixTime represents the number representing the number of seconds from
// 1970-01-01T0:0:0Z as measured in UTC until the date/time. This is the type
// IDToken uses to represent dates
type UnixTime int64

// NewUnixTime creates a UnixTime from the given Time, t
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime(t.Unix())
}

// Time returns the *time.Time this represents
func (u UnixTime) Time() time.Time {
	return time.Unix(int64(u), 0)
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(u), 10)), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	p, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse UnixTime: %v", err)
	}
	*u = UnixTime(p)
	return nil
}
