package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalJSONMatchesGateway(t *testing.T) {
	params := map[string]string{
		"order_id":          "ORDER_42_monthly_0a1b2c3d",
		"products[0][name]": "Месячная премиум",
		"customer_comment":  "Telegram: @anna",
		"quote":             `say "hi"\ok`,
		"ctl":               "a\nb\tc\x01\x1f\u2028e",
		"do":                "link",
		"sum":               "300.00",
	}

	want := `{"ctl":"a\nb\tc\u0001\u001f` + "\u2028" + `e","customer_comment":"Telegram: @anna","do":"link",` +
		`"order_id":"ORDER_42_monthly_0a1b2c3d","products[0][name]":"Месячная премиум",` +
		`"quote":"say \"hi\"\\ok","sum":"300.00"}`
	assert.Equal(t, want, string(canonicalJSON(params)))

	// Reference value produced by the gateway's own algorithm.
	assert.Equal(t, "cdea2f677290ed2c68113c0dcc22c5fb7e9d2cf56dd97f2e2b11d3f75bd60c6a", sign("s3cr3t", params))
}

func TestCanonicalJSONEmpty(t *testing.T) {
	assert.Equal(t, "{}", string(canonicalJSON(map[string]string{})))
}

func TestSignatureEqual(t *testing.T) {
	sig := sign("k", map[string]string{"a": "b"})
	assert.True(t, signatureEqual(sig, sig))
	assert.False(t, signatureEqual(sig, sig[:len(sig)-1]))
	assert.False(t, signatureEqual(sig, ""))
}
