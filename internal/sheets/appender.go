// Package sheets appends lead rows to a Google spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/metrics"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/retry"
)

const (
	// AppendColumns is the column span new rows are written into.
	AppendColumns = "A:D"

	// USER_ENTERED lets Sheets coerce emails, numbers and dates as if typed.
	valueInputOption = "USER_ENTERED"
)

// AppendError means the spreadsheet API rejected the write or could not be
// reached. StatusCode is 0 for network failures.
type AppendError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AppendError) Error() string {
	if e.Body == "" && e.Err != nil {
		return "Failed to append to sheet: " + e.Err.Error()
	}
	return "Failed to append to sheet: " + e.Body
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// Config identifies the target sheet and how to reach it.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// Endpoint overrides https://sheets.googleapis.com/ (tests, emulators).
	Endpoint string
	// HTTPClient supplies the base transport. Its Timeout is not used: the
	// per-attempt deadline comes from Policy.
	HTTPClient *http.Client
	Policy     retry.Policy
}

// Appender writes one row per call to SheetName!A:D.
type Appender struct {
	cfg Config
}

// NewAppender creates an appender. A nil HTTPClient uses http.DefaultClient.
func NewAppender(cfg Config) *Appender {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Appender{cfg: cfg}
}

// Range returns the A1 range rows are appended to, e.g. "Sheet1!A:D".
func (a *Appender) Range() string {
	return a.cfg.SheetName + "!" + AppendColumns
}

// Append writes row as a single new row, authorized by accessToken.
func (a *Appender) Append(ctx context.Context, accessToken string, row []string) error {
	srv, err := a.service(ctx, accessToken)
	if err != nil {
		return &AppendError{Err: err}
	}

	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	body := &sheetsapi.ValueRange{Values: [][]interface{}{values}}

	policy := a.cfg.Policy
	policy.OnRetry = func(err error) {
		metrics.UpstreamRetriesTotal.WithLabelValues("append").Inc()
		logger.Warn("retrying sheet append", map[string]interface{}{"error": err.Error()})
	}

	start := time.Now()
	var resp *sheetsapi.AppendValuesResponse
	err = policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = srv.Spreadsheets.Values.
			Append(a.cfg.SpreadsheetID, a.Range(), body).
			ValueInputOption(valueInputOption).
			Context(ctx).
			Do()
		return callErr
	})
	metrics.SheetAppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		aerr := toAppendError(err)
		logger.Error("failed to append to sheet", map[string]interface{}{
			"status": aerr.StatusCode,
			"error":  aerr.Error(),
		})
		return aerr
	}

	fields := map[string]interface{}{"range": a.Range()}
	if resp != nil && resp.Updates != nil {
		fields["updated_range"] = resp.Updates.UpdatedRange
	}
	logger.Info("appended row to sheet", fields)
	return nil
}

func (a *Appender) service(ctx context.Context, accessToken string) (*sheetsapi.Service, error) {
	transport := a.cfg.HTTPClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	// No client Timeout: on expiry net/http would call the deprecated
	// oauth2.Transport.CancelRequest, which writes to the stdlib log.
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   transport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.Endpoint))
	}
	srv, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return srv, nil
}

func toAppendError(err error) *AppendError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return &AppendError{StatusCode: gerr.Code, Body: body, Err: err}
	}
	return &AppendError{Err: err}
}
