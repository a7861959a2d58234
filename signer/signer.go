// Package signer computes request signatures for authenticated REST calls.
//
// Parameters are joined as "k=v&k=v" in the order the caller added them. The
// exchange verifies the signature against the exact string it receives, so
// callers keep a fixed parameter order per endpoint.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

type param struct {
	key   string
	value string
}

// Params is an ordered parameter list. The zero value is ready to use.
type Params struct {
	items []param
}

func (p *Params) Add(key, value string) *Params {
	p.items = append(p.items, param{key: key, value: value})
	return p
}

// AddIfSet appends the pair only when value is non-empty.
func (p *Params) AddIfSet(key, value string) *Params {
	if value == "" {
		return p
	}
	return p.Add(key, value)
}

func (p Params) Len() int { return len(p.items) }

func (p Params) Get(key string) (string, bool) {
	for _, it := range p.items {
		if it.key == key {
			return it.value, true
		}
	}
	return "", false
}

// Encode renders the canonical "k=v&..." string. Values are query-escaped so
// the signed string and the transmitted body are the same bytes.
func (p Params) Encode() string {
	var b strings.Builder
	for i, it := range p.items {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(it.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(it.value))
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA256 of params.Encode() keyed by
// secret.
func Sign(secret string, params Params) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signed returns a copy of params with the signature appended as the final
// "signature" parameter.
func Signed(secret string, params Params) Params {
	sig := Sign(secret, params)
	out := Params{items: make([]param, len(params.items), len(params.items)+1)}
	copy(out.items, params.items)
	out.Add("signature", sig)
	return out
}
