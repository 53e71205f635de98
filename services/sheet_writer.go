package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
)

type SheetWriter interface {
	EnsureSheetExists(ctx context.Context, sheetName string) (created bool, err error)
	SetHeaders(ctx context.Context, sheetName string, headers []string) error
	AppendRows(ctx context.Context, sheetName string, rows [][]interface{}) error
}

type GoogleSheetsWriter struct {
	sheetsService    *sheets.Service
	spreadsheetID    string
	retryMaxAttempts int
	retryDelay       time.Duration
	log              *logger.Logger
}

// NewGoogleSheetsWriter authenticates with the service account file from cfg
// unless opts already carry a client.
func NewGoogleSheetsWriter(ctx context.Context, cfg config.ReportConfig, log *logger.Logger, opts ...option.ClientOption) (*GoogleSheetsWriter, error) {
	if len(opts) == 0 {
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("failed to configure JWT from credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(jwtConfig.Client(ctx)))
	}

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Sheets API client: %w", err)
	}

	return &GoogleSheetsWriter{
		sheetsService:    sheetsService,
		spreadsheetID:    cfg.SpreadsheetID,
		retryMaxAttempts: cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
		log:              log,
	}, nil
}

func (w *GoogleSheetsWriter) SetHeaders(ctx context.Context, sheetName string, headers []string) error {
	writeRange := fmt.Sprintf("'%s'!A1", sheetName)
	values := [][]interface{}{make([]interface{}, 0, len(headers))}
	for _, h := range headers {
		values[0] = append(values[0], h)
	}

	w.log.Debug("API Sheets: setting headers", "sheet", sheetName, "spreadsheet", w.spreadsheetID)
	err := w.executeSheetsCall(ctx, func() error {
		_, err := w.sheetsService.Spreadsheets.Values.Update(w.spreadsheetID, writeRange, &sheets.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	}, fmt.Sprintf("set headers in '%s'", sheetName))
	if err != nil {
		return fmt.Errorf("failed to set headers at '%s'!A1 in spreadsheet '%s': %w", sheetName, w.spreadsheetID, err)
	}
	return nil
}

func (w *GoogleSheetsWriter) AppendRows(ctx context.Context, sheetName string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	appendRange := fmt.Sprintf("'%s'", sheetName)
	w.log.Info("API Sheets: appending rows", "rows", len(rows), "sheet", sheetName, "spreadsheet", w.spreadsheetID)
	err := w.executeSheetsCall(ctx, func() error {
		_, err := w.sheetsService.Spreadsheets.Values.Append(w.spreadsheetID, appendRange, &sheets.ValueRange{Values: rows}).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	}, fmt.Sprintf("append %d rows to '%s'", len(rows), sheetName))
	if err != nil {
		return fmt.Errorf("failed to append %d rows to sheet '%s' in spreadsheet '%s': %w", len(rows), sheetName, w.spreadsheetID, err)
	}
	return nil
}

// EnsureSheetExists adds the tab when missing and reports whether it did.
func (w *GoogleSheetsWriter) EnsureSheetExists(ctx context.Context, sheetName string) (bool, error) {
	var spreadsheet *sheets.Spreadsheet
	err := w.executeSheetsCall(ctx, func() error {
		var err error
		spreadsheet, err = w.sheetsService.Spreadsheets.Get(w.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return err
	}, "get spreadsheet")
	if err != nil {
		return false, fmt.Errorf("failed to get spreadsheet details for '%s' to check for sheet '%s': %w", w.spreadsheetID, sheetName, err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			return false, nil
		}
	}

	w.log.Info("API Sheets: sheet doesn't exist, creating", "sheet", sheetName, "spreadsheet", w.spreadsheetID)
	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheetName},
			},
		}},
	}
	err = w.executeSheetsCall(ctx, func() error {
		_, err := w.sheetsService.Spreadsheets.BatchUpdate(w.spreadsheetID, batchUpdateRequest).Context(ctx).Do()
		return err
	}, fmt.Sprintf("create sheet '%s' via BatchUpdate", sheetName))
	if err != nil {
		return false, fmt.Errorf("failed to create sheet '%s' in spreadsheet '%s': %w", sheetName, w.spreadsheetID, err)
	}
	return true, nil
}

func isRetryableSheetsError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}

	switch {
	case apiErr.Code >= 500 && apiErr.Code < 600:
		return true
	case apiErr.Code == 429:
		return true
	case apiErr.Code == 403 && strings.Contains(strings.ToLower(apiErr.Message), "ratelimitexceeded"):
		return true
	}
	for _, item := range apiErr.Errors {
		if apiErr.Code == 403 && strings.EqualFold(item.Reason, "rateLimitExceeded") {
			return true
		}
	}
	return false
}

func (w *GoogleSheetsWriter) executeSheetsCall(ctx context.Context, callFunc func() error, operationDesc string) error {
	baseDelay := w.retryDelay
	maxAttempts := w.retryMaxAttempts

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation '%s' cancelled via context: %w", operationDesc, err)
		}

		err := callFunc()
		if err == nil {
			return nil
		}

		if !isRetryableSheetsError(err) || attempt >= maxAttempts {
			return fmt.Errorf("fatal Sheets API operation '%s' failure after %d attempts: %w", operationDesc, attempt+1, err)
		}

		delay := baseDelay * time.Duration(1<<attempt)
		w.log.Warn("API Sheets: operation failed, retrying", "operation", operationDesc,
			"attempt", attempt+1, "max_attempts", maxAttempts+1, "error", err, "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("operation '%s' cancelled via context during retry wait: %w", operationDesc, ctx.Err())
		}
	}
}
