package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alextra-lab/personal-agent-sub000/internal/tools"
)

// consoleApprover asks the operator before a high-risk tool call runs.
// Prompts go to stderr so piped stdout stays clean.
type consoleApprover struct{}

func (consoleApprover) Approve(ctx context.Context, req tools.ApprovalRequest) (bool, error) {
	args, _ := json.Marshal(req.Arguments)
	fmt.Fprintf(os.Stderr, "%s %s wants to run (%s risk)\n  args: %s\n",
		yellow("approval:"), bold(req.ToolName), req.RiskLevel, string(args))
	fmt.Fprint(os.Stderr, "  allow? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			answer <- ""
			return
		}
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		return line == "y" || line == "yes", nil
	}
}
