package hitl

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

// sensitiveWords match whole shell tokens (by basename, so /bin/rm is rm).
var sensitiveWords = []string{
	// destructive
	"rm", "rmdir", "unlink", "dd", "mkfs", "fdisk", "parted", "shred",
	// privilege escalation
	"sudo", "su", "doas", "chmod", "chown", "chgrp",
	// remote execution
	"nc", "netcat", "eval", "exec",
	// process and system control
	"kill", "pkill", "killall", "reboot", "shutdown", "init",
}

// sensitivePatterns match as substrings of the normalized command.
var sensitivePatterns = []string{
	"> /dev/", "| /dev/",
	"/etc/", "/sys/", "/proc/", "/boot/", "/var/log/",
}

var (
	wordSet    = toSet(sensitiveWords)
	fetchers   = toSet([]string{"curl", "wget"})
	shellNames = toSet([]string{"sh", "bash", "zsh", "dash", "python", "python3", "perl"})
)

var (
	pipeRe   = regexp.MustCompile(`\s*\|\s*`)
	redirRe  = regexp.MustCompile(`>\s*`)
	spacesRe = regexp.MustCompile(`\s+`)
)

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func isShellSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(";|&()<>`$\"'{}", r)
}

// MatchSensitive returns the first sensitive keyword or pattern found in a
// command.
func MatchSensitive(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, tok := range strings.FieldsFunc(lower, isShellSeparator) {
		if wordSet[path.Base(tok)] {
			return path.Base(tok), true
		}
	}
	if p, ok := pipesToShell(lower); ok {
		return p, true
	}
	norm := spacesRe.ReplaceAllString(lower, " ")
	norm = pipeRe.ReplaceAllString(norm, " | ")
	norm = redirRe.ReplaceAllString(norm, "> ")
	for _, p := range sensitivePatterns {
		if strings.Contains(norm, p) {
			return p, true
		}
	}
	return "", false
}

// pipesToShell detects a download piped into an interpreter, such as
// "curl -s https://x | sh".
func pipesToShell(cmd string) (string, bool) {
	fetched := ""
	for _, seg := range strings.Split(cmd, "|") {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		first := path.Base(fields[0])
		if fetched != "" && shellNames[first] {
			return fetched + " | " + first, true
		}
		if fetchers[first] {
			fetched = first
		}
	}
	return "", false
}
