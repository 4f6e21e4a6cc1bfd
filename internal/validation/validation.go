package validation

import (
	"crypto/subtle"
	"strings"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/models"
)

// MessageMissingFields is the client-facing message for an incomplete lead.
const MessageMissingFields = "Missing required fields"

// ValidationError reports a lead that cannot be submitted. The caller is at
// fault, so handlers answer with HTTP 400.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return MessageMissingFields
}

// Detail lists the missing JSON fields, for logs only.
func (e *ValidationError) Detail() string {
	return strings.Join(e.Missing, ",")
}

// ValidateLead checks that all four lead fields are present and non-empty.
func ValidateLead(lead models.Lead) error {
	var missing []string
	if lead.Name == "" {
		missing = append(missing, "name")
	}
	if lead.Email == "" {
		missing = append(missing, "email")
	}
	if lead.Phone == "" {
		missing = append(missing, "phone")
	}
	if lead.InvestmentAmount == "" {
		missing = append(missing, "investmentAmount")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// ValidateAdminToken compares the presented admin token in constant time.
// An empty configured token never matches, which keeps admin routes closed.
func ValidateAdminToken(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
