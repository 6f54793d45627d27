package payment

import "strings"

// Per-method payment instructions shown by the admin UI and checkout
// pages. {{amount}} and {{payment_code}} are substituted per payment.
var instructionMap = map[Method][]string{
	MethodCashOnDelivery: {
		"Your order will be shipped to the delivery address",
		"Prepare {{amount}} in cash before the courier arrives",
		"The courier collects the exact order total plus the COD fee",
		"Pay the courier directly and keep the receipt",
	},

	MethodBankTransfer: {
		"Open your mobile banking app or visit an ATM",
		"Choose Transfer to Virtual Account",
		"Enter the virtual account number {{payment_code}}",
		"Verify the recipient name and the amount {{amount}}",
		"Complete the transfer and keep the proof of payment",
		"Your payment is verified manually and may take up to one business day",
	},

	MethodCard: {
		"Enter your card details (number, expiry, CVV)",
		"Complete the 3-D Secure verification from your issuing bank",
		"Wait until the charge of {{amount}} is confirmed",
	},

	MethodWalletA: {
		"You will be redirected to the wallet app",
		"Check that the balance covers {{amount}}",
		"Confirm the payment and enter your wallet PIN",
	},

	MethodWalletB: {
		"You will be redirected to the wallet checkout page",
		"Log in and review the payment of {{amount}}",
		"Approve the payment to return to the store",
	},
}

func GetInstructions(method Method) []string {
	if steps, ok := instructionMap[method]; ok {
		return steps
	}

	return []string{
		"Follow the payment instructions shown on this page",
	}
}

type InstructionVars map[string]string

func InjectVariables(steps []string, vars InstructionVars) []string {
	result := make([]string, 0, len(steps))

	for _, step := range steps {
		updated := step
		for key, value := range vars {
			updated = strings.ReplaceAll(updated, "{{"+key+"}}", value)
		}
		result = append(result, updated)
	}

	return result
}
