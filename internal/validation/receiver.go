package validation

import "strings"

const suffixLen = 4

// ReceiverAccountMatches сравнивает счёт получателя из слипа (обычно замаскированный,
// например "xxx-x-x1234-x") с настроенным. Учитываются только цифры; счета совпадают,
// если одна сторона содержит последние четыре цифры другой.
func ReceiverAccountMatches(slipAccount, configured string) bool {
	slip := digits(slipAccount)
	conf := digits(configured)
	if len(slip) < suffixLen || len(conf) < suffixLen {
		return false
	}
	return strings.Contains(conf, slip[len(slip)-suffixLen:]) ||
		strings.Contains(slip, conf[len(conf)-suffixLen:])
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
