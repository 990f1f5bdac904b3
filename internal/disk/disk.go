// Package disk reports free space for the filesystem holding the data
// directory, so writes can be refused before SQLite runs out of room
// halfway through a transaction.
package disk

import (
	"errors"
	"fmt"
)

// Disk capacity thresholds
const (
	MinFreeBytes   = 10 * 1024 * 1024 // 10 MB minimum free space
	WarningPercent = 90               // Warn when disk is 90% full
)

// ErrInsufficient is returned by RequireFree when space is short.
var ErrInsufficient = errors.New("disk: insufficient disk space")

// SpaceInfo contains disk usage for a path.
type SpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// LowSpace reports whether the disk is past WarningPercent.
func (s *SpaceInfo) LowSpace() bool {
	return s.UsedPct >= WarningPercent
}

// RequireFree returns ErrInsufficient when fewer than max(MinFreeBytes,
// 2*dataSize) bytes are available at path. Failure to stat the filesystem
// is returned as-is so the caller can decide whether to proceed.
func RequireFree(path string, dataSize int) (*SpaceInfo, error) {
	info, err := Check(path)
	if err != nil {
		return nil, err
	}

	required := uint64(MinFreeBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return info, fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficient,
			info.Available/(1024*1024),
			required/(1024*1024))
	}
	return info, nil
}
