// Package delivery decides what happens to a message after a failed send.
// Everything here is pure and safe for concurrent use.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

type Kind string

const (
	Transient Kind = "transient"
	Permanent Kind = "permanent"
	Unknown   Kind = "unknown"
)

// ErrorInfo is the transport-neutral shape fed to Classify.
type ErrorInfo struct {
	Message string
	Code    string // optional: SMTP reply code or an errno-style name
}

// ClassifiedError is the outcome of Classify.
type ClassifiedError struct {
	Kind   Kind
	Detail string
}

func (e ClassifiedError) Error() string {
	return fmt.Sprintf("%s delivery error: %s", e.Kind, e.Detail)
}

// Retryable reports whether the failure may succeed on a later attempt.
// Unknown is not retried.
func (e ClassifiedError) Retryable() bool {
	return e.Kind == Transient
}

var (
	permanentKeywords = []string{
		"invalid credentials",
		"authentication failed",
		"access denied",
		"sender address rejected",
		"recipient address rejected",
		"mailbox unavailable",
		"user unknown",
		"invalid login",
	}
	permanentCodes = []string{"550", "553", "554"}

	transientKeywords = []string{
		"timeout",
		"etimedout",
		"econnreset",
		"econnrefused",
		"enotfound",
		"network",
		"connection",
		"temporary",
		"rate limit",
	}
	transientCodes = []string{"421", "450", "451", "452", "454"}
)

// Classify maps an error description to transient, permanent or unknown.
// Permanent indicators win over transient ones.
func Classify(info ErrorInfo) ClassifiedError {
	msg := strings.ToLower(info.Message)
	code := strings.ToUpper(strings.TrimSpace(info.Code))
	detail := info.Message
	if detail == "" {
		detail = "unspecified error"
	}

	if matches(msg, code, permanentKeywords, permanentCodes) {
		return ClassifiedError{Kind: Permanent, Detail: detail}
	}
	if matches(msg, code, transientKeywords, transientCodes) {
		return ClassifiedError{Kind: Transient, Detail: detail}
	}
	return ClassifiedError{Kind: Unknown, Detail: detail}
}

// ClassifyError is Classify(Describe(err)).
func ClassifyError(err error) ClassifiedError {
	return Classify(Describe(err))
}

func matches(msg, code string, keywords, codes []string) bool {
	for _, k := range keywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	// errno-style codes (ETIMEDOUT, ECONNRESET...) share the keyword list
	lower := strings.ToLower(code)
	for _, k := range keywords {
		if lower == k {
			return true
		}
	}
	return false
}

var leadingReplyCode = regexp.MustCompile(`^\s*([2-5]\d\d)[\s-]`)

// Describe normalises an arbitrary error into an ErrorInfo, extracting an SMTP reply code
// or an errno-style name when the error carries one.
func Describe(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	info := ErrorInfo{Message: err.Error()}

	var tpErr *textproto.Error
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &tpErr):
		info.Code = strconv.Itoa(tpErr.Code)
	case errors.Is(err, syscall.ECONNREFUSED):
		info.Code = "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		info.Code = "ECONNRESET"
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		info.Code = "ENOTFOUND"
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		info.Code = "ETIMEDOUT"
	default:
		if m := leadingReplyCode.FindStringSubmatch(info.Message); m != nil {
			info.Code = m[1]
		}
	}
	return info
}
