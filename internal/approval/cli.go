package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const cliBoxWidth = 50

// CliApprovalBroker prompts on stderr and reads a single keypress (followed
// by Enter, since terminal raw mode isn't worth the portability cost here)
// from Input, defaulting to stdin.
type CliApprovalBroker struct {
	Timeout time.Duration
	Input   io.Reader
	Output  io.Writer
}

func NewCliApprovalBroker(timeout time.Duration) *CliApprovalBroker {
	return &CliApprovalBroker{Timeout: timeout}
}

func DefaultCliApprovalBroker() *CliApprovalBroker {
	return NewCliApprovalBroker(30 * time.Second)
}

func (b *CliApprovalBroker) input() io.Reader {
	if b.Input != nil {
		return b.Input
	}
	return os.Stdin
}

func (b *CliApprovalBroker) output() io.Writer {
	if b.Output != nil {
		return b.Output
	}
	return os.Stderr
}

func (b *CliApprovalBroker) RequestApproval(ctx context.Context, request *ApprovalRequest) (ApprovalDecision, error) {
	out := b.output()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "┌─ Tool Approval Required "+strings.Repeat("─", cliBoxWidth-25))
	fmt.Fprintln(out, cliBoxLine("Tool:    "+request.ToolName))
	fmt.Fprintln(out, cliBoxLine("Args:    "+request.ArgsSummary))
	fmt.Fprintln(out, cliBoxLine("Risk:    "+string(request.RiskLevel)))
	fmt.Fprintln(out, cliBoxLine("Entity:  "+request.EntityID))
	fmt.Fprintln(out, "├"+strings.Repeat("─", cliBoxWidth))
	fmt.Fprintln(out, cliBoxLine("[A]llow  [D]eny  Allow [S]ession  Allow [P]ermanent"))
	fmt.Fprintln(out, "└"+strings.Repeat("─", cliBoxWidth))
	fmt.Fprint(out, "  > ")

	type readResult struct {
		ch  byte
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		reader := bufio.NewReader(b.input())
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if err != nil && line == "" {
			resultCh <- readResult{err: err}
			return
		}
		if line == "" {
			resultCh <- readResult{err: fmt.Errorf("no input received")}
			return
		}
		resultCh <- readResult{ch: line[0]}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	select {
	case <-timeoutCtx.Done():
		return Denied("approval timed out"), nil
	case res := <-resultCh:
		if res.err != nil {
			return Denied(fmt.Sprintf("input error: %v", res.err)), nil
		}
		switch toLowerByte(res.ch) {
		case 'a':
			return Approved(), nil
		case 'd':
			return Denied("denied by user"), nil
		case 's':
			return ApprovedWithGrant(PermissionGrant{
				Tool: request.ToolName, Pattern: request.ArgsSummary, Scope: GrantScopeSession,
			}), nil
		case 'p':
			return ApprovedWithGrant(PermissionGrant{
				Tool: request.ToolName, Pattern: request.ArgsSummary, Scope: GrantScopePermanent,
			}), nil
		default:
			return Denied(fmt.Sprintf("unrecognized input: '%c'", res.ch)), nil
		}
	}
}

// cliBoxLine pads content to the box's visual width using rune-width-aware
// measurement, so a line carrying wide (e.g. CJK) characters in a tool
// argument summary doesn't throw off the box's right border alignment.
func cliBoxLine(content string) string {
	width := runewidth.StringWidth(content)
	if width >= cliBoxWidth {
		return "│ " + runewidth.Truncate(content, cliBoxWidth-1, "…")
	}
	return "│ " + content + strings.Repeat(" ", cliBoxWidth-width-1)
}

func toLowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
