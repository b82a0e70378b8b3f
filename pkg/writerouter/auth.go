package writerouter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// generateAuthToken mints a per-request bearer token for workspaceID
// using a shared symmetric-key signing scheme: the data
// plane verifies the HMAC with the same signingKey out of band.
func generateAuthToken(workspaceID, signingKey string, now time.Time) (string, error) {
	if signingKey == "" {
		return "", fmt.Errorf("writerouter: signing key is not configured")
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	payload := workspaceID + "." + ts

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return payload + "." + sig, nil
}

// verifyAuthToken is the data-plane-side counterpart, kept here for
// symmetry; nothing in this module calls it, since this core only
// ever mints tokens.
func verifyAuthToken(token, signingKey string) bool {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return false
	}
	workspaceID, ts, sig := parts[0], parts[1], parts[2]

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(workspaceID + "." + ts))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(sig), []byte(expected))
}
