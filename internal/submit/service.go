// Package submit runs one lead submission end to end: validate, mint a
// token, append the row, record the outcome.
package submit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/models"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/validation"
)

// TokenMinter yields a bearer token for the spreadsheet scope.
type TokenMinter interface {
	AccessToken(ctx context.Context) (string, error)
}

// RowAppender writes one row to the target sheet.
type RowAppender interface {
	Append(ctx context.Context, accessToken string, row []string) error
}

// Ledger records submission outcomes. Optional.
type Ledger interface {
	Record(ctx context.Context, sub models.Submission) error
}

// Service orchestrates a submission. It keeps no state between calls, so
// concurrent submissions are independent.
type Service struct {
	minter   TokenMinter
	appender RowAppender
	ledger   Ledger
	now      func() time.Time
}

// NewService wires the collaborators. ledger may be nil.
func NewService(minter TokenMinter, appender RowAppender, ledger Ledger) *Service {
	return &Service{minter: minter, appender: appender, ledger: ledger, now: time.Now}
}

// Submit validates lead and appends it as one row. Validation errors return
// before any outbound call; a failed token mint means no append is tried.
// There are no retries here beyond the bounded ones inside each upstream
// call: a failure is terminal for this request.
func (s *Service) Submit(ctx context.Context, lead models.Lead, remoteAddr string) error {
	if err := validation.ValidateLead(lead); err != nil {
		return err
	}

	id := uuid.NewString()
	fields := map[string]interface{}{"submission_id": id}

	token, err := s.minter.AccessToken(ctx)
	if err == nil {
		err = s.appender.Append(ctx, token, lead.Row())
	}

	sub := models.Submission{
		ID:               id,
		Name:             lead.Name,
		Email:            lead.Email,
		Phone:            lead.Phone,
		InvestmentAmount: lead.InvestmentAmount,
		Status:           models.StatusAppended,
		RemoteAddr:       remoteAddr,
		ReceivedAt:       s.now().Unix(),
	}
	if err != nil {
		sub.Status = models.StatusFailed
		sub.Error = err.Error()
	}
	s.record(ctx, sub)

	if err != nil {
		fields["error"] = err.Error()
		logger.Error("lead submission failed", fields)
		return err
	}
	logger.Info("lead submitted", fields)
	return nil
}

func (s *Service) record(ctx context.Context, sub models.Submission) {
	if s.ledger == nil {
		return
	}
	// The row is already in the sheet (or not); a ledger outage must not
	// change what the caller is told.
	if err := s.ledger.Record(context.WithoutCancel(ctx), sub); err != nil {
		logger.Error("failed to record submission", map[string]interface{}{
			"submission_id": sub.ID,
			"error":         err.Error(),
		})
	}
}
