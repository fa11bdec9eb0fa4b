package farm

import (
	"strconv"
	"strings"
)

// Solana runtime log prefixes
const (
	programLogPrefix    = "Program log: "
	programDataPrefix   = "Program data: "
	programReturnPrefix = "Program return: "
)

// LogContext groups the log lines emitted by one program invocation.
type LogContext struct {
	ProgramID   string
	Depth       int
	LogMessages []string
	Data        []string
	Errors      []string
}

// LogGrouper attributes raw transaction log lines to the programs that emitted them.
type LogGrouper interface {
	Group(logs []string) []LogContext
}

// ContextGrouper builds one LogContext per program invocation by following the
// runtime's invoke/success/failed markers. Nested invocations get their own context.
type ContextGrouper struct{}

// Ensure ContextGrouper implements LogGrouper
var _ LogGrouper = ContextGrouper{}

// Group implements LogGrouper
func (ContextGrouper) Group(logs []string) []LogContext {
	var (
		contexts []LogContext
		stack    []int
	)

	current := func() *LogContext {
		if len(stack) == 0 {
			return nil
		}
		return &contexts[stack[len(stack)-1]]
	}

	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, programLogPrefix):
			if ctx := current(); ctx != nil {
				ctx.LogMessages = append(ctx.LogMessages, strings.TrimPrefix(line, programLogPrefix))
			}
			continue
		case strings.HasPrefix(line, programDataPrefix):
			if ctx := current(); ctx != nil {
				ctx.Data = append(ctx.Data, strings.TrimPrefix(line, programDataPrefix))
			}
			continue
		case strings.HasPrefix(line, programReturnPrefix):
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "Program" {
			continue
		}

		programID, verb := fields[1], fields[2]
		switch verb {
		case "invoke":
			depth := 0
			if len(fields) > 3 {
				depth, _ = strconv.Atoi(strings.Trim(fields[3], "[]"))
			}
			contexts = append(contexts, LogContext{ProgramID: programID, Depth: depth})
			stack = append(stack, len(contexts)-1)
		case "success":
			stack = popInvocation(contexts, stack, programID)
		case "failed:":
			if ctx := current(); ctx != nil && ctx.ProgramID == programID {
				ctx.Errors = append(ctx.Errors, strings.Join(fields[3:], " "))
			}
			stack = popInvocation(contexts, stack, programID)
		}
	}

	return contexts
}

// popInvocation closes the innermost open invocation of programID.
func popInvocation(contexts []LogContext, stack []int, programID string) []int {
	for i := len(stack) - 1; i >= 0; i-- {
		if contexts[stack[i]].ProgramID == programID {
			return stack[:i]
		}
	}
	return stack
}

// SubstringGrouper is the lax grouping: when any line mentions ProgramID, every line
// of the transaction is attributed to that program in a single context.
type SubstringGrouper struct {
	ProgramID string
}

// Ensure SubstringGrouper implements LogGrouper
var _ LogGrouper = SubstringGrouper{}

// Group implements LogGrouper
func (g SubstringGrouper) Group(logs []string) []LogContext {
	for _, line := range logs {
		if strings.Contains(line, g.ProgramID) {
			messages := make([]string, len(logs))
			copy(messages, logs)
			return []LogContext{{ProgramID: g.ProgramID, Depth: 1, LogMessages: messages}}
		}
	}
	return nil
}

// NewLogGrouper returns the grouper for the configured mode ("context" or "substring").
func NewLogGrouper(mode, programID string) LogGrouper {
	if strings.EqualFold(mode, "substring") {
		return SubstringGrouper{ProgramID: programID}
	}
	return ContextGrouper{}
}
