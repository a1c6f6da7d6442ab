package models

import (
	"fmt"
	"strconv"
	"strings"
)

// HeightFromResolution extracts the vertical resolution from operator input.
// Accepted forms are "1920x1080", "1080p", and a bare height such as "720".
func HeightFromResolution(resolution string) (int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(resolution))
	if trimmed == "" {
		return 0, fmt.Errorf("resolution is required")
	}
	if idx := strings.LastIndex(trimmed, "x"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, "p")
	height, err := strconv.Atoi(trimmed)
	if err != nil || height <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", resolution)
	}
	return height, nil
}
