package handlers

import (
	"fmt"
	"strings"

	"github.com/Cheertaboi/discount-code-service/internal/service"
)

// hubMaxCodeLength is the longest code the hub accepts; generated codes are
// never longer than this.
const hubMaxCodeLength = service.MaxCodeLength

func validateGenerateInput(count, length int) string {
	if count < service.MinGenerateCount || count > service.MaxGenerateCount {
		return fmt.Sprintf("Count must be between %d and %d.", service.MinGenerateCount, service.MaxGenerateCount)
	}
	if length < service.MinCodeLength || length > service.MaxCodeLength {
		return fmt.Sprintf("Length must be %d or %d.", service.MinCodeLength, service.MaxCodeLength)
	}
	return ""
}

func validateUseCodeInput(code string, maxLen int) string {
	if strings.TrimSpace(code) == "" || len(code) > maxLen {
		return fmt.Sprintf("Code must be %d characters or fewer.", maxLen)
	}
	return ""
}
