package auth

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRCode renders the enrolment URL as a size×size PNG.
func (e Enrollment) QRCode(size int) ([]byte, error) {
	png, err := qrcode.Encode(e.URL, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("auth: render qr code: %w", err)
	}
	return png, nil
}

// TerminalQRCode renders the enrolment URL with block characters for a terminal.
func (e Enrollment) TerminalQRCode() (string, error) {
	q, err := qrcode.New(e.URL, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("auth: render qr code: %w", err)
	}
	return q.ToSmallString(false), nil
}
