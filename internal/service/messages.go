package service

import (
	"fmt"
	"html"
)

// User-visible texts. Messages are sent with HTML parse mode, so every
// interpolated value is escaped.

const (
	textMenu           = "Choose how many stars you would like to donate to the project:"
	textUnknownCommand = "Sorry, there is no such command. Use /help to see the available commands."
	textHelp           = "📦 <b>Available commands</b>\n\n" +
		"/start - donate to the project\n" +
		"/refund - refund a payment"

	textRefundUsage = "Please send <code>/refund ID</code>, where ID is the transaction id.\n" +
		"You can find it in the message sent after the payment, and in the Stars section of the Telegram app."
	textRefundTxNotFound       = "Transaction not found. Please check the transaction id."
	textRefundChargeNotFound   = "No purchase with this code was found. Please check the id and try again."
	textRefundAlreadyRefunded  = "This purchase has already been refunded."
	textRefundFailed           = "The refund could not be completed. Please try again later."
	textRefundPayerNotice      = "Your refund is complete. The stars you spent are back on your Telegram balance."
	textRefundOperatorDone     = "Refund completed. The user has been notified."
	textRefundOperatorNoNotice = "Refund completed, but the user could not be notified."

	textAmountUnavailable = "This amount is not available."
	textPreCheckoutFailed = "This invoice is no longer valid. Please start again with /donate."
)

func textRefundUnauthorized(supportContact string) string {
	return fmt.Sprintf("To get your money back, please write to our manager: %s", html.EscapeString(supportContact))
}

func textPaymentRecorded(transactionID string) string {
	return fmt.Sprintf("🎉 <b>Thank you for your donation!</b>\n\n"+
		"Your transaction id: <code>%s</code>\n\n"+
		"Keep it in case you ever need a refund.", html.EscapeString(transactionID))
}

// textPaymentNotRecorded is sent when the ledger write failed; it must not
// claim that the transaction id was stored.
func textPaymentNotRecorded(transactionID, supportContact string) string {
	return fmt.Sprintf("🎉 <b>Thank you for your donation!</b>\n\n"+
		"We could not register this payment for refunds right now. "+
		"If you ever need a refund, contact %s with the transaction id <code>%s</code>.",
		html.EscapeString(supportContact), html.EscapeString(transactionID))
}

func textPayButton(amount int) string {
	return fmt.Sprintf("Pay %d⭐️", amount)
}

func textAmountButton(amount int) string {
	return fmt.Sprintf("%d stars", amount)
}
