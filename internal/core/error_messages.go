package core

// # Error Codes Reference
//
// Failed files carry a coded message so operators can quote it to support.
// Codes are grouped by category:
//
//	META001-META099  field metadata could not be fetched or was malformed
//	FMT001-FMT099    the input file could not be parsed
//	DB001-DB099      destination store failures
//	RUN001-RUN099    lifecycle and run control
//	REQ001           invalid request
//	ERR000           fallback; check the logs for the technical error
//
// Entries are matched in order. An entry matches when the error wraps its
// sentinel (errors.Is) or contains its pattern (case-insensitive), so the
// more specific entries come first.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	sentinel error
	pattern  string
	msg      UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Metadata Errors (META001-META002)
	// =========================================================================
	{
		pattern: "metadata request",
		msg: UserMessage{
			Message: "Field definitions could not be fetched",
			Action:  "Check that the metadata service is reachable, then retry the file",
			Code:    "META002",
		},
	},
	{
		sentinel: ErrMetadata,
		msg: UserMessage{
			Message: "Field definitions are missing or malformed",
			Action:  "Fix the checklist configuration, then retry the file",
			Code:    "META001",
		},
	},

	// =========================================================================
	// Format Errors (FMT001-FMT003)
	// =========================================================================
	{
		pattern: "empty header",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Add a header row with one column per field",
			Code:    "FMT001",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "The source file was not found",
			Action:  "Check that the file was transferred completely",
			Code:    "FMT003",
		},
	},
	{
		sentinel: ErrFormat,
		msg: UserMessage{
			Message: "The file is not valid comma or pipe delimited text",
			Action:  "Export the file as CSV or pipe-delimited text",
			Code:    "FMT002",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB010)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Retry the file; existing rows are updated in place",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Retry the file; processing resumes from the last saved batch",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Retry the file",
			Code:    "DB007",
		},
	},
	{
		sentinel: ErrPersistence,
		msg: UserMessage{
			Message: "Records could not be saved",
			Action:  "Retry the file; processing resumes from the last saved batch",
			Code:    "DB010",
		},
	},

	// =========================================================================
	// Run Errors (RUN001-RUN005)
	// =========================================================================
	{
		sentinel: ErrNotClaimable,
		msg: UserMessage{
			Message: "The file is already being processed or has completed",
			Action:  "Wait for the current run to finish",
			Code:    "RUN001",
		},
	},
	{
		sentinel: ErrNotFound,
		msg: UserMessage{
			Message: "File not found",
			Action:  "Verify the file id",
			Code:    "RUN002",
		},
	},
	{
		sentinel: ErrInvalidTransition,
		msg: UserMessage{
			Message: "The file cannot change to the requested status",
			Action:  "Only failed files can be retried",
			Code:    "RUN003",
		},
	},
	{
		sentinel: ErrTooManyRuns,
		msg: UserMessage{
			Message: "System is busy processing other files",
			Action:  "Please wait a moment and try again",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Processing was cancelled",
			Action:  "Retry the file when ready",
			Code:    "RUN005",
		},
	},
	{
		sentinel: ErrInvalidInput,
		msg: UserMessage{
			Message: "The request is incomplete",
			Action:  "Provide the file path, checklist and inspection",
			Code:    "REQ001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	err := fmt.Errorf("chunk 2: %w", ErrPersistence)
//	msg := MapError(err)
//	// msg.Code == "DB010"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if ep.sentinel != nil && errors.Is(err, ep.sentinel) {
			return ep.msg
		}
		if ep.pattern != "" && strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// FailureMessage is the text stored on a Failed file: the user message
// followed by the technical detail.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := MapError(err)
	return fmt.Sprintf("%s (Code: %s): %s", msg.Message, msg.Code, err.Error())
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
