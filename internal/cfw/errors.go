package cfw

import (
	"errors"
	"strconv"
)

var (
	errDuplicateTID       = errors.New("cfw: duplicate transaction id")
	errNoPeerCertificate  = errors.New("cfw: TLS peer presented no certificate")
	errFingerprintMismatch = errors.New("cfw: TLS peer certificate fingerprint mismatch")
	errUnauthenticated    = errors.New("cfw: client not yet authenticated")
)

func itoa(n int) string { return strconv.Itoa(n) }
