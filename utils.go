package main

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func encodeEdid(edid []byte) string {
	return base64.StdEncoding.EncodeToString(edid)
}

func decodeEdid(encoded string) ([]byte, error) {
	edid, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: edid is not valid base64: %v", ErrInvalidParams, err)
	}

	if len(edid) == 0 {
		return nil, fmt.Errorf("%w: edid is empty", ErrInvalidParams)
	}

	return edid, nil
}

func deviceLocator(id int) string {
	return fmt.Sprintf("hdmiin://localhost/deviceid/%d", id)
}

func parseStatus(status string) bool {
	return strings.TrimSpace(status) == "connected"
}
