package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignKnownVectors(t *testing.T) {
	t.Parallel()

	var ts Params
	ts.Add("timestamp", "1700000000000")
	require.Equal(t, "d615d05216c634afd48df5e1fc52c0d95b77892f19502e1b619f391bc9d68205", Sign("secret", ts))

	var order Params
	order.Add("symbol", "BTCUSD").
		Add("price", "101").
		Add("side", "SELL").
		Add("type", "LIMIT").
		Add("quantity", "2").
		Add("timestamp", "1700000000000").
		Add("newClientOrderId", "42")
	require.Equal(t,
		"symbol=BTCUSD&price=101&side=SELL&type=LIMIT&quantity=2&timestamp=1700000000000&newClientOrderId=42",
		order.Encode())
	require.Equal(t, "0b269374931fabc88cb2a437d306383917af8568d8a3efd69c452fa4222858ca", Sign("secret", order))

	require.Equal(t, "5d5d139563c95b5967b9bd9a8c9b233a9dedb45072794cd232dc1b74832607d0", Sign("key", Params{}))
}

func TestSignDependsOnOrder(t *testing.T) {
	t.Parallel()

	var a, b Params
	a.Add("x", "1").Add("y", "2")
	b.Add("y", "2").Add("x", "1")
	require.NotEqual(t, Sign("s", a), Sign("s", b))
	require.Equal(t, Sign("s", a), Sign("s", a))
}

func TestSignedAppendsSignatureLast(t *testing.T) {
	t.Parallel()

	var p Params
	p.Add("timestamp", "1").AddIfSet("newClientOrderId", "")
	require.Equal(t, 1, p.Len())

	signed := Signed("s", p)
	require.Equal(t, 1, p.Len(), "input must not be mutated")
	require.Equal(t, 2, signed.Len())

	sig, ok := signed.Get("signature")
	require.True(t, ok)
	require.Equal(t, Sign("s", p), sig)
	require.Equal(t, "timestamp=1&signature="+sig, signed.Encode())
}
