package api

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"FeedRater/internal/config"
)

// DigestAuth guards admin routes with HTTP digest authentication (RFC 2617
// without qop). The configured token is HA1 = md5(username:realm:password).
// With an empty token every request is refused.
func DigestAuth(cfg config.AdminConfig, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Token != "" {
			creds, ok := parseDigest(c.GetHeader("Authorization"))
			if ok && validDigest(cfg, c.Request.Method, creds) {
				c.Next()
				return
			}
			if log != nil && c.GetHeader("Authorization") != "" {
				log.Warn("admin authentication failed", "path", c.Request.URL.Path, "remote", c.ClientIP())
			}
		}

		nonce, err := newNonce()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "nonce generation failed"})
			return
		}
		c.Header("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s",nonce="%s"`, cfg.Realm, nonce))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication credentials"})
	}
}

type digestCredentials struct {
	username string
	realm    string
	nonce    string
	uri      string
	response string
}

func validDigest(cfg config.AdminConfig, method string, creds digestCredentials) bool {
	if creds.username != cfg.Username || creds.realm != cfg.Realm {
		return false
	}
	ha2 := md5Hex(method + ":" + creds.uri)
	expected := md5Hex(strings.ToLower(cfg.Token) + ":" + creds.nonce + ":" + ha2)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(creds.response)), []byte(expected)) == 1
}

// parseDigest reads `Digest k="v", k=v, ...`; quoted values may contain
// commas.
func parseDigest(header string) (digestCredentials, bool) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Digest") {
		return digestCredentials{}, false
	}

	params := map[string]string{}
	for rest = strings.TrimSpace(rest); rest != ""; {
		key, after, found := strings.Cut(rest, "=")
		if !found {
			return digestCredentials{}, false
		}
		key = strings.ToLower(strings.TrimSpace(key))

		var value string
		after = strings.TrimLeft(after, " ")
		if strings.HasPrefix(after, `"`) {
			end := strings.IndexByte(after[1:], '"')
			if end < 0 {
				return digestCredentials{}, false
			}
			value = after[1 : end+1]
			after = after[end+2:]
		} else {
			value, after, _ = strings.Cut(after, ",")
			value = strings.TrimSpace(value)
			after = "," + after
		}
		params[key] = value

		after = strings.TrimSpace(after)
		after = strings.TrimPrefix(after, ",")
		rest = strings.TrimSpace(after)
	}

	creds := digestCredentials{
		username: params["username"],
		realm:    params["realm"],
		nonce:    params["nonce"],
		uri:      params["uri"],
		response: params["response"],
	}
	if creds.username == "" || creds.nonce == "" || creds.uri == "" || creds.response == "" {
		return digestCredentials{}, false
	}
	return creds, true
}

func newNonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
