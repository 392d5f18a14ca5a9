package session

import (
	"encoding/base64"
	"fmt"

	"rsc.io/qr"
)

// EncodeQR renders the raw pairing payload as a PNG data URL that a browser
// can drop straight into an <img>.
func EncodeQR(payload string) (string, error) {
	code, err := qr.Encode(payload, qr.M)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
