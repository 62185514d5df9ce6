package payment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Supported payment methods.
const (
	MethodCard     = "card"
	MethodQiwi     = "qiwi"
	MethodSberbank = "sberbank"
	MethodYoomoney = "yoomoney"
	MethodWebmoney = "webmoney"
	MethodCrypto   = "crypto"
)

// DefaultMethods lists every method the bot accepts out of the box.
func DefaultMethods() []string {
	return []string{MethodCard, MethodQiwi, MethodSberbank, MethodYoomoney, MethodWebmoney, MethodCrypto}
}

// Details is what the user needs to complete a transfer. The comment ties
// an incoming transfer back to the payment during manual review.
type Details struct {
	Method     string
	Amount     float64
	Comment    string
	BankName   string
	CardNumber string
	Cardholder string
	Wallet     string
	Crypto     string
}

// detailsFor fills the transfer details for a method. Unknown methods are
// rejected before this point, but the fallback keeps only the generic
// fields populated.
func detailsFor(method string, amount float64) Details {
	d := Details{
		Method:  method,
		Amount:  amount,
		Comment: generateComment(),
	}

	switch method {
	case MethodCard:
		d.BankName = "Tinkoff"
		d.CardNumber = "5536 9138 1234 5678"
		d.Cardholder = "IVANOV IVAN"
	case MethodQiwi:
		d.Wallet = "+79001234567"
	case MethodSberbank:
		d.CardNumber = "5469 3800 1234 5678"
	case MethodYoomoney:
		d.Wallet = "410011234567890"
	case MethodWebmoney:
		d.Wallet = "R123456789012"
	case MethodCrypto:
		d.Wallet = "0x742d35Cc6634C0532925a3b844Bc9e0a3A3A3A3A"
		d.Crypto = "USDT (TRC20)"
	}

	return d
}

// PaymentURL returns a direct payment link for methods that support one,
// or "" when the user has to transfer manually.
func (d Details) PaymentURL() string {
	switch d.Method {
	case MethodQiwi:
		return fmt.Sprintf("https://qiwi.com/payment/form/99?extra%%5B%%27account%%27%%5D=%s&amount=%.2f&extra%%5B%%27comment%%27%%5D=%s",
			d.Wallet, d.Amount, d.Comment)
	case MethodYoomoney:
		return fmt.Sprintf("https://yoomoney.ru/transfer/quickpay?requestId=%s&amount=%.2f", d.Wallet, d.Amount)
	default:
		return ""
	}
}

func generateComment() string {
	return "VPN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
