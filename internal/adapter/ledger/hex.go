package ledger

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

func toHex(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexBig(s string) (*big.Int, error) {
	digits, err := hexDigits(s)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

func parseHexUint64(s string) (uint64, error) {
	digits, err := hexDigits(s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex quantity %q: %w", s, err)
	}
	return n, nil
}

func hexDigits(s string) (string, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("hex quantity %q lacks 0x prefix", s)
	}
	digits := s[2:]
	if digits == "" {
		return "0", nil
	}
	return digits, nil
}
