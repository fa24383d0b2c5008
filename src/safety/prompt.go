package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Options carries the global destructive-action flags.
type Options struct {
	// DryRun previews actions without making changes.
	DryRun bool
	// Yes answers prompts affirmatively without asking.
	Yes bool
}

// Confirm asks before a destructive action. Dry-run declines without
// prompting; --yes accepts without prompting.
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes {
		return true, nil
	}
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
