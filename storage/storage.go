// Package storage contains durable implementations of
// core.AuthorizationCodes, and a test suite they must all pass.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pardot/authcode/core"
)

// MarshalCode serializes a code for storage.
func MarshalCode(c core.AuthorizationCode) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling code: %w", err)
	}
	return b, nil
}

// UnmarshalCode parses a code serialized with MarshalCode.
func UnmarshalCode(b []byte) (core.AuthorizationCode, error) {
	var c core.AuthorizationCode
	if err := json.Unmarshal(b, &c); err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("unmarshaling code: %w", err)
	}
	return c, nil
}

// NotFoundErr is returned by stores when there is no code with the value.
// Stores that don't remember consumed codes return it for reuse as well.
func NotFoundErr() error {
	return &core.Error{Kind: core.ErrorKindCodeNotFound, Reason: "no such code"}
}

// AlreadyUsedErr is returned by stores that remember consumed codes.
func AlreadyUsedErr(at time.Time) error {
	return &core.Error{Kind: core.ErrorKindCodeAlreadyUsed, Reason: fmt.Sprintf("code was consumed at %s", at.UTC().Format(time.RFC3339))}
}
