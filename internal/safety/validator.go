// Package safety validates shell commands before the engine executes them.
//
// The validator is a pure function over the command string and its declared
// source. Every command this subsystem runs, whether user-initiated or
// auto-generated by the update scheduler, passes through Validate first.
// Rejection aborts only the package that produced the command; batch
// operations continue with the rest.
//
// The denylist is fixed: patterns for destructive filesystem operations,
// piping network downloads into a shell interpreter, command chaining
// metacharacters (an adapter emits exactly one invocation, so any chaining
// is evidence of a compromised adapter), and redirection onto device files.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
)

var (
	// ErrUnsafeCommand is returned when the command matches a denylisted
	// construct. The wrapped message carries the reason verbatim.
	ErrUnsafeCommand = errors.New("unsafe command")

	// ErrUntrustedSource is returned when the declared source is not a
	// supported backend. This defends against a spoofed adapter handing
	// the engine commands under an invented source name.
	ErrUntrustedSource = errors.New("untrusted package source")
)

// denyRule pairs a compiled pattern with the reason surfaced on rejection.
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var denyRules = []denyRule{
	{
		pattern: regexp.MustCompile(`rm\s+(-{1,2}\S*\s+)*/(\s|$|bin|boot|dev|etc|home|lib|opt|root|sbin|srv|sys|usr|var)`),
		reason:  "recursive or direct deletion of a root-level path",
	},
	{
		pattern: regexp.MustCompile(`\bdd\s+if=`),
		reason:  "raw disk write via dd",
	},
	{
		pattern: regexp.MustCompile(`\b(mkfs|fdisk|parted)\b`),
		reason:  "filesystem formatting or partitioning",
	},
	{
		pattern: regexp.MustCompile(`\b(curl|wget)\b[^|;]*\|\s*(sudo\s+)?(sh|bash|zsh|dash)\b`),
		reason:  "network download piped into a shell interpreter",
	},
	{
		pattern: regexp.MustCompile(`[;&|]|\$\(|` + "`"),
		reason:  "shell metacharacter allowing command chaining",
	},
	{
		pattern: regexp.MustCompile(`>+\s*/dev/(sd|hd|nvme|vd|mmcblk|loop|mem|kmem)`),
		reason:  "output redirection onto a device file",
	},
	{
		pattern: regexp.MustCompile(`\bchmod\s+(-\S+\s+)*777\b`),
		reason:  "world-writable permission change",
	},
	{
		pattern: regexp.MustCompile(`/etc/(shadow|sudoers)`),
		reason:  "access to credential or privilege files",
	},
}

// Validate checks command against the denylist and the source against the
// supported backend set. A nil return means the command may be executed.
func Validate(command string, source backend.Source) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: %q", ErrUntrustedSource, source)
	}

	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("%w: empty command", ErrUnsafeCommand)
	}
	if strings.ContainsAny(command, "\n\r") {
		return fmt.Errorf("%w: multi-line command", ErrUnsafeCommand)
	}

	lower := strings.ToLower(command)
	for _, rule := range denyRules {
		if rule.pattern.MatchString(lower) {
			return fmt.Errorf("%w: %s", ErrUnsafeCommand, rule.reason)
		}
	}
	return nil
}
