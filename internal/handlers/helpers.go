package handlers

import (
	"fmt"
	"strconv"
)

// parsePositive parses raw into *out, rejecting zero and negatives.
func parsePositive(raw string, out *int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive")
	}
	*out = n
	return n, nil
}
