package models

// Lead is a giveaway participant as posted by the landing page form
type Lead struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	InvestmentAmount string `json:"investmentAmount"`
}

// Row returns the lead as a spreadsheet row in A:D column order
func (l Lead) Row() []string {
	return []string{l.Name, l.Email, l.Phone, l.InvestmentAmount}
}

// Submission statuses recorded in the ledger
const (
	StatusAppended = "appended"
	StatusFailed   = "failed"
)

// Submission represents what we store in the ledger for every accepted lead
type Submission struct {
	ID               string `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	Email            string `json:"email" db:"email"`
	Phone            string `json:"phone" db:"phone"`
	InvestmentAmount string `json:"investmentAmount" db:"investment_amount"`
	Status           string `json:"status" db:"status"`
	Error            string `json:"error,omitempty" db:"error"`
	RemoteAddr       string `json:"remoteAddr,omitempty" db:"remote_addr"`
	ReceivedAt       int64  `json:"receivedAt" db:"received_at"`
}

// SuccessResponse is returned with HTTP 200 once the row is appended
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is returned for every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}
