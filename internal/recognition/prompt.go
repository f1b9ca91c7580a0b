package recognition

import (
	"slices"
	"strings"

	"github.com/dvloznov/receipt-capture/internal/tenant"
)

const basePrompt = "You are a receipt parser for a personal expense tracker.\n\n" +
	"Task:\n" +
	"- Read the attached photo of a paper receipt.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"merchant_name\": string\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"total_amount\": number\n" +
	"- \"currency\": string or null (ISO 4217 code, e.g. \"CNY\")\n" +
	"- \"payment_account_name\": string or null (card or wallet, keep the last digits, e.g. \"Visa ****1234\")\n" +
	"- \"tax\": number or null\n" +
	"- \"confidence\": number between 0 and 1\n" +
	"- \"items\": array of objects with:\n" +
	"  - \"name\": string\n" +
	"  - \"category_name\": string\n" +
	"  - \"price\": number\n" +
	"  - \"purpose\": string or null\n" +
	"  - \"is_asset\": boolean\n" +
	"  - \"confidence\": number between 0 and 1\n"

const rulesPrompt = "Rules:\n" +
	"- Prefer an existing category or payment account name when one fits; copy it exactly.\n" +
	"- Only invent a new category name when none of the existing ones fits.\n" +
	"- Leave \"purpose\" null unless the receipt marks the item as a business expense.\n" +
	"- Set \"is_asset\" to true only for durable goods such as electronics or furniture.\n" +
	"- Amounts are plain numbers without currency symbols or thousands separators.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// BuildPrompt renders the instructions sent with every receipt image.
// Hint lists are sorted so the prompt is stable for a given taxonomy.
func BuildPrompt(tc tenant.Context, hints Hints) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n")

	if tc.HomeCurrency != "" {
		b.WriteString("If the currency is not printed, use \"" + tc.HomeCurrency + "\".\n\n")
	}

	writeHintList(&b, "Existing categories", hints.Categories)
	writeHintList(&b, "Existing payment accounts", hints.PaymentAccounts)
	writeHintList(&b, "Existing purposes", hints.Purposes)

	b.WriteString(rulesPrompt)
	return b.String()
}

func writeHintList(b *strings.Builder, title string, names []string) {
	if len(names) == 0 {
		return
	}
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	b.WriteString(title + ":\n")
	for _, n := range sorted {
		b.WriteString("  - " + n + "\n")
	}
	b.WriteString("\n")
}
