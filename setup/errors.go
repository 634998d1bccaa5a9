package setup

import (
	"errors"
	"strings"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/sandbox"
)

// FormatErrorForUser converts pipeline errors to messages for the command line.
// This should only be called at the command level.
func FormatErrorForUser(err error) string {
	if err == nil {
		return ""
	}

	var execErr *sandbox.ExecError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case sandbox.FailureTimeout:
			return "code generation timed out - try a simpler prompt"
		case sandbox.FailureNoResult:
			return "code generation stopped without a result"
		default:
			return "code generation failed"
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(errStr, "interrupted:"):
		return "the job was interrupted - resume it to continue"
	case strings.Contains(errStr, "unique constraint") && strings.Contains(errStr, "name"):
		return "a project with this name already exists"
	case strings.Contains(errStr, "record not found"):
		return "not found"
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		var classified *domain.Error
		if errors.As(err, &classified) {
			return classified.Err.Error()
		}
		return "invalid input"
	case domain.KindLockContention:
		return "the project is busy with another job - try again later"
	case domain.KindBuild:
		return "the generated code does not build"
	case domain.KindTimeout:
		return "operation timed out"
	case domain.KindTransient:
		return "a provider is temporarily unavailable - resume the job to retry"
	}

	switch {
	case strings.Contains(errStr, "authentication failed"):
		return "git authentication failed - please check your credentials"
	case strings.Contains(errStr, "connection"):
		return "connection failed"
	default:
		return "an unexpected error occurred"
	}
}
