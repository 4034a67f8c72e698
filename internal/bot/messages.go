package bot

import (
	"fmt"
	"strings"
)

const (
	msgWelcome = "Hey, I'm Analyst AI, the chief of all analysts 🤓\n\n" +
		"I'll ask a series of questions to learn more about your project.\n\n" +
		"If I like it, you'll be invited to an exclusive group and get the chance to pitch to VC investors.\n\n" +
		"Ready to dive in? Type /pitch to get started."

	msgHelp = "Available commands:\n" +
		"/start - Welcome message\n" +
		"/pitch - Begin pitching your project\n" +
		"/paid - Check your payment\n" +
		"/help - Show this help message\n" +
		"/cancel - Cancel the pitching process"

	msgNoSession        = "There is no pitch in progress. Type /pitch to start one."
	msgAlreadyEvaluated = "Your pitch has already been evaluated. Type /pitch to start over."
	msgCancelled        = "Pitching process has been cancelled. Thanks for stopping by!"
	msgAskWallet        = "Please send the wallet address you paid from."
	msgWalletLocked     = "Your payment is already confirmed with another wallet."
	msgAlreadyPaid      = "Your payment is already confirmed."
	msgPaymentConfirmed = "Payment received, thank you! Alright, let's go! 💡"
	msgCheckFailed      = "I could not check the payment right now. Please try /paid again in a moment."
	msgEmptyAnswer      = "I need an actual answer to this one."
	msgProcessing       = "That's it for the questions! Let me process your responses..."
	msgQuestionFailed   = "An error occurred while processing your answer, so this pitch was cancelled. Type /pitch to try again."
	msgEvaluationFailed = "An error occurred during the evaluation, so this pitch was cancelled. Type /pitch to try again."
	msgStoreFailed      = "Something went wrong while saving your pitch. Please contact the team if this keeps happening."
)

// Terms are the payment details shown to participants.
type Terms struct {
	Treasury string
	Amount   string
	Token    string
}

func paymentInstructions(t Terms) string {
	var b strings.Builder
	b.WriteString("Before we start, a small fee is required.\n\n")
	fmt.Fprintf(&b, "Send at least %s %s to:\n%s\n\n", t.Amount, tokenName(t.Token), t.Treasury)
	b.WriteString("Then reply with the wallet address you paid from. Type /paid any time to check the payment again.")
	return b.String()
}

func paymentPending(t Terms) string {
	return fmt.Sprintf("Payment not yet received. Once %s %s from your wallet lands, type /paid.", t.Amount, tokenName(t.Token))
}

func invalidWallet(err error) string {
	return fmt.Sprintf("That does not look like a valid wallet address (%v). Please try again.", err)
}

func approvedMessage(inviteLink string) string {
	msg := "Congratulations! 🎉 Your pitch has been approved."
	if inviteLink != "" {
		msg += "\nJoin our exclusive group here: " + inviteLink
	}
	return msg
}

func rejectedMessage(feedback string) string {
	return "Thank you for your pitch! Unfortunately, it didn't meet our criteria this time.\n\n" +
		"Feedback:\n" + feedback + "\n\n" +
		"Please refine your project and try again later."
}

func tokenName(token string) string {
	if token == "" {
		return "tokens"
	}
	return token
}
