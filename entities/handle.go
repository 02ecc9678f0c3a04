package entities

import (
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

var ErrInvalidHandle = errors.New("invalid handle")

var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// SplitHandle validates user@host and returns the lowercased parts.
// The host may carry a port.
func SplitHandle(handle string) (string, string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	user, host, ok := strings.Cut(handle, "@")
	if !ok || user == "" || host == "" || strings.Contains(host, "@") {
		return "", "", errors.Wrap(ErrInvalidHandle, handle)
	}
	for _, c := range user {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.ContainsRune("_.-+", c)) {
			return "", "", errors.Wrap(ErrInvalidHandle, handle)
		}
	}

	hostname, port := host, ""
	if h, p, err := net.SplitHostPort(host); err == nil {
		hostname, port = h, p
	}
	ascii, err := hostProfile.ToASCII(hostname)
	if err != nil || !strings.Contains(ascii, ".") && ascii != "localhost" {
		return "", "", errors.Wrap(ErrInvalidHandle, handle)
	}
	if port != "" {
		ascii = net.JoinHostPort(ascii, port)
	}
	return strings.ToLower(user), ascii, nil
}

// NormalizeHandle returns the canonical form of handle.
func NormalizeHandle(handle string) (string, error) {
	user, host, err := SplitHandle(handle)
	if err != nil {
		return "", err
	}
	return user + "@" + host, nil
}

// NewGUID returns a fresh 32 character hex guid.
func NewGUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
