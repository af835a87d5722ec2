package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/getsentry/sentry-go"
)

var (
	aaCodePattern       = regexp.MustCompile(`AA(\d\d)`)
	pmCodePattern       = regexp.MustCompile(`PM(\d\d)`)
	failedOpPattern     = regexp.MustCompile(`FailedOp\((\d+),\s*"([^"]*)"`)
	revertReasonPattern = regexp.MustCompile(`execution reverted: (.*?)($|")`)
)

const (
	msgInsufficientFunds = "Insufficient funds to execute this transaction"
	msgGenericRevert     = "Transaction reverted - check the target contract"
	msgNetwork           = "Network error. Please try again later."
)

// ErrorReporter receives errors nobody could classify. *sentry.Hub satisfies it.
type ErrorReporter interface {
	CaptureException(exception error) *sentry.EventID
}

// ErrorClassifier turns failures from any pipeline stage into a taxonomy code
// and a message fit for end users.
type ErrorClassifier struct {
	reporter ErrorReporter
}

func NewErrorClassifier(reporter ErrorReporter) *ErrorClassifier {
	return &ErrorClassifier{reporter: reporter}
}

// ExtractErrorCode finds an AA or PM code in msg. An explicit AA code wins over
// a PM code, which wins over the numeric code of a FailedOp revert.
func ExtractErrorCode(msg string) (string, bool) {
	if m := aaCodePattern.FindStringSubmatch(msg); m != nil {
		return "AA" + m[1], true
	}
	if m := pmCodePattern.FindStringSubmatch(msg); m != nil {
		return "PM" + m[1], true
	}
	if m := failedOpPattern.FindStringSubmatch(msg); m != nil {
		code, err := strconv.Atoi(m[1])
		if err == nil && code >= 0 && code <= 99 {
			return fmt.Sprintf("AA%02d", code), true
		}
	}
	return "", false
}

// ToReadableMessage maps a raw failure message to the text shown to users
func ToReadableMessage(msg string) string {
	if code, ok := ExtractErrorCode(msg); ok {
		return fmt.Sprintf("Error %s: Transaction failed. Please try again.", code)
	}
	if strings.Contains(msg, "insufficient funds") {
		return msgInsufficientFunds
	}
	if strings.Contains(msg, "execution reverted") {
		if m := revertReasonPattern.FindStringSubmatch(msg); m != nil {
			return "Transaction reverted: " + m[1]
		}
		return msgGenericRevert
	}
	return msg
}

// Classify tags err with a taxonomy code. Codes set by lower layers are kept;
// untagged errors are classified from their text.
func (c *ErrorClassifier) Classify(err error) domain.DomainError {
	if err == nil {
		return domain.DomainError{}
	}

	msg := err.Error()

	stage := domain.StageOf(err)
	tagged, ok := domain.Tagged(err)
	if ok && tagged.Stage() != "" {
		stage = tagged.Stage()
	}
	if stage == "" {
		stage = domain.StageOrchestrator
	}

	if ok {
		opts := []domain.ErrorOption{domain.WithMsg(taggedMessage(tagged, msg)), domain.WithStage(stage)}
		if detail := tagged.Detail(); detail != nil {
			opts = append(opts, domain.WithDetail(detail))
		}
		return domain.NewDomainError(tagged.Code(), err, opts...)
	}

	opts := []domain.ErrorOption{domain.WithMsg(ToReadableMessage(msg))}
	code := classifyText(err, msg)
	if errorCode, ok := ExtractErrorCode(msg); ok {
		opts = append(opts, domain.WithDetail(map[string]interface{}{"code": errorCode}))
	}
	if code == domain.ErrorCodeUnclassified && c.reporter != nil {
		c.reporter.CaptureException(err)
	}
	return domain.NewDomainError(code, err, append(opts, domain.WithStage(stage))...)
}

// taggedMessage prefers the message set where the error was tagged. Transport
// text of connectivity errors carries endpoint URLs and is never shown.
func taggedMessage(tagged domain.DomainError, msg string) string {
	if clientMsg := tagged.ClientMsg(); clientMsg != "" {
		return clientMsg
	}
	if code, ok := ExtractErrorCode(msg); ok {
		return fmt.Sprintf("Error %s: Transaction failed. Please try again.", code)
	}
	if tagged.Code() == domain.ErrorCodeConnectivity {
		return msgNetwork
	}
	return ToReadableMessage(msg)
}

func classifyText(err error, msg string) domain.ErrorCode {
	if code, ok := ExtractErrorCode(msg); ok {
		if strings.HasPrefix(code, "PM") {
			return domain.ErrorCodePaymaster
		}
		return domain.ErrorCodeValidation
	}
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return domain.ErrorCodeValidation
	case strings.Contains(msg, "execution reverted"):
		return domain.ErrorCodeRevert
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorCodeTimeout
	case errors.Is(err, erc4337.ErrOperationNotSigned),
		errors.Is(err, erc4337.ErrOperationSubmitted),
		errors.Is(err, erc4337.ErrInvalidStateTransition):
		return domain.ErrorCodeValidation
	}
	return domain.ErrorCodeUnclassified
}
