package billing

// Gateway numeric payment-type codes. The gateway reports the method used
// for a charge as a string numeric code plus auxiliary fields (card brand,
// virtual-account bank, wallet sub-type).
const (
	payTypeCard         = "1"
	payTypePhone        = "2"
	payTypeBankTransfer = "6"
	payTypeVirtualBank  = "7"
	payTypeKakaoPay     = "15"
	payTypeNaverPay     = "16"
)

const genericMethodLabel = "기타결제"

// PaymentMethodLabel translates a gateway payment-type code and its
// auxiliary fields into a single human-readable method label. Unknown codes
// fall back to a generic label rather than failing the notification.
func PaymentMethodLabel(payType, cardName, vbank, naverPay string) string {
	switch payType {
	case payTypeCard:
		if cardName != "" {
			return cardName
		}
		return "카드"
	case payTypePhone:
		return "휴대폰결제"
	case payTypeBankTransfer:
		return "계좌이체"
	case payTypeVirtualBank:
		if vbank != "" {
			return vbank + " 가상계좌"
		}
		return "가상계좌"
	case payTypeKakaoPay:
		return "카카오페이"
	case payTypeNaverPay:
		// naverpay discriminates the funding source inside the wallet.
		switch naverPay {
		case "card":
			return "네이버페이(카드)"
		case "bank":
			return "네이버페이(계좌)"
		}
		return "네이버페이"
	}
	return genericMethodLabel
}
