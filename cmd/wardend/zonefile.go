package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wardendns/warden/pkg/firewall"
)

// loadZoneFile reads a simple RPZ-style policy list: one entry per line,
// comma-separated fields `domain,action[,category[,redirect_to[,priority]]]`,
// blank lines and lines starting with '#' ignored. This is a deliberately
// small subset of full zone-file syntax (non-goal: full RPZ zone parsing),
// enough for an operator to drop a flat blocklist/allowlist on disk and
// have cmd/wardend pick it up on every fsnotify write.
func loadZoneFile(path string) ([]firewall.Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file: %w", err)
	}
	defer f.Close()

	var policies []firewall.Policy
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("zone file %s:%d: expected at least domain,action", path, lineNo)
		}
		p := firewall.Policy{
			Domain: strings.TrimSpace(fields[0]),
			Action: parseAction(strings.TrimSpace(fields[1])),
		}
		if len(fields) > 2 {
			p.Category = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			p.RedirectTo = strings.TrimSpace(fields[3])
		}
		if len(fields) > 4 {
			priority, err := strconv.Atoi(strings.TrimSpace(fields[4]))
			if err != nil {
				return nil, fmt.Errorf("zone file %s:%d: invalid priority: %w", path, lineNo, err)
			}
			p.Priority = priority
		}
		policies = append(policies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan zone file: %w", err)
	}
	return policies, nil
}
