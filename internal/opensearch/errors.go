package opensearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies failures returned by the cluster.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeResponse       ErrorType = "response"
	ErrorTypeNetworkTimeout ErrorType = "network_timeout"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeServer         ErrorType = "server"
	ErrorTypeBulk           ErrorType = "bulk"
	ErrorTypeUnknown        ErrorType = "unknown"
)

type SearchError struct {
	Type       ErrorType     `json:"type"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (e *SearchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (HTTP %d)", e.Type, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *SearchError) IsRetryable() bool {
	return e.Retryable
}

func NewSearchError(errType ErrorType, message string) *SearchError {
	return &SearchError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewRetryableSearchError(errType ErrorType, message string, retryAfter time.Duration) *SearchError {
	return &SearchError{
		Type:       errType,
		Message:    message,
		Retryable:  true,
		RetryAfter: retryAfter,
		Timestamp:  time.Now(),
	}
}

// ClassifyConnectionError maps a transport or API error to a SearchError.
func ClassifyConnectionError(err error) *SearchError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewSearchError(ErrorTypeNetworkTimeout, fmt.Sprintf("request aborted: %v", err))
	}

	errMsg := err.Error()
	lower := strings.ToLower(errMsg)

	switch {
	case strings.Contains(lower, "timeout"):
		return NewRetryableSearchError(ErrorTypeNetworkTimeout,
			fmt.Sprintf("connection to OpenSearch timed out: %s", errMsg), 5*time.Second)
	case strings.Contains(lower, "connection refused"):
		return NewSearchError(ErrorTypeValidation,
			fmt.Sprintf("connection to OpenSearch refused: %s", errMsg))
	case strings.Contains(lower, "no such host"):
		return NewSearchError(ErrorTypeValidation,
			fmt.Sprintf("OpenSearch host not found: %s", errMsg))
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		e := NewRetryableSearchError(ErrorTypeRateLimit, errMsg, 10*time.Second)
		e.StatusCode = 429
		return e
	case strings.Contains(lower, "index_not_found_exception"):
		e := NewSearchError(ErrorTypeValidation, errMsg)
		e.StatusCode = 404
		return e
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "security_exception"):
		return NewSearchError(ErrorTypeValidation,
			fmt.Sprintf("OpenSearch rejected the credentials: %s", errMsg))
	case strings.Contains(lower, "502") || strings.Contains(lower, "503") ||
		strings.Contains(lower, "500"):
		return NewRetryableSearchError(ErrorTypeServer, errMsg, 10*time.Second)
	}

	return NewRetryableSearchError(ErrorTypeUnknown,
		fmt.Sprintf("connection error: %v", err), 10*time.Second)
}
