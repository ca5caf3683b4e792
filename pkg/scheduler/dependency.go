package scheduler

import (
	"strconv"
	"strings"

	"github.com/AndPuQing/gflow/pkg/models"
)

// resolveDependencyToken translates the dependency sugar into a concrete
// job id: a literal integer names a job id directly; "@" names the id
// most recently appended to recent; "@~N" names the N-th prior entry,
// 0-based after "@" (so "@~0" is equivalent to "@").
func resolveDependencyToken(token string, recent []uint64) (uint64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, &models.ValidationError{Field: "depends_on", Detail: "empty token"}
	}

	if token == "@" {
		return resolveRecentOffset(0, recent)
	}
	if strings.HasPrefix(token, "@~") {
		n, err := strconv.Atoi(token[2:])
		if err != nil || n < 0 {
			return 0, &models.ValidationError{Field: "depends_on", Detail: "malformed @~N token: " + token}
		}
		return resolveRecentOffset(n, recent)
	}

	id, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: "depends_on", Detail: "unknown token: " + token}
	}
	return id, nil
}

// resolveRecentOffset walks recent from its tail (most recent first).
func resolveRecentOffset(n int, recent []uint64) (uint64, error) {
	idx := len(recent) - 1 - n
	if idx < 0 || idx >= len(recent) {
		return 0, &models.ValidationError{Field: "depends_on", Detail: "no such prior submission"}
	}
	return recent[idx], nil
}

// pushRecent appends id to the bounded ring buffer, trimming the oldest
// entries beyond the window.
func pushRecent(recent []uint64, id uint64) []uint64 {
	recent = append(recent, id)
	if over := len(recent) - models.RecentSubmissionsWindow; over > 0 {
		recent = recent[over:]
	}
	return recent
}
