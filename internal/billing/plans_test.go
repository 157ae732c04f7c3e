package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRegistry_CanonicalNames(t *testing.T) {
	reg := NewStaticPlanRegistry()

	basic, ok := reg.Lookup("베이직")
	require.True(t, ok)
	assert.Equal(t, 9900, basic.Price)
	assert.Equal(t, 1, basic.Rank)

	premium, ok := reg.Lookup("프리미엄")
	require.True(t, ok)
	assert.Equal(t, 19900, premium.Price)
	assert.Greater(t, premium.Rank, basic.Rank)
}

func TestPlanRegistry_Aliases(t *testing.T) {
	reg := NewStaticPlanRegistry()

	for alias, canonical := range map[string]string{
		"basic":    "베이직",
		"standard": "스탠다드",
		"premium":  "프리미엄",
		"Premium":  "프리미엄",
		" basic ":  "베이직",
	} {
		p, ok := reg.Lookup(alias)
		require.True(t, ok, "alias %q", alias)
		assert.Equal(t, canonical, p.Name, "alias %q", alias)
	}
}

func TestPlanRegistry_UnknownPlan(t *testing.T) {
	reg := NewStaticPlanRegistry()

	_, ok := reg.Lookup("platinum")
	assert.False(t, ok)
	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestPaymentMethodLabel(t *testing.T) {
	tests := []struct {
		name     string
		payType  string
		cardName string
		vbank    string
		naverPay string
		want     string
	}{
		{"card with brand", "1", "신한카드", "", "", "신한카드"},
		{"card without brand", "1", "", "", "", "카드"},
		{"phone", "2", "", "", "", "휴대폰결제"},
		{"bank transfer", "6", "", "", "", "계좌이체"},
		{"virtual account", "7", "", "국민은행", "", "국민은행 가상계좌"},
		{"virtual account no bank", "7", "", "", "", "가상계좌"},
		{"kakaopay", "15", "", "", "", "카카오페이"},
		{"naverpay card", "16", "", "", "card", "네이버페이(카드)"},
		{"naverpay bank", "16", "", "", "bank", "네이버페이(계좌)"},
		{"naverpay unknown sub-type", "16", "", "", "", "네이버페이"},
		{"unknown code", "99", "", "", "", "기타결제"},
		{"empty code", "", "", "", "", "기타결제"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PaymentMethodLabel(tt.payType, tt.cardName, tt.vbank, tt.naverPay))
		})
	}
}
