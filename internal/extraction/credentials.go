package extraction

import (
	"bufio"
	"os"
	"strings"
	"time"
)

// Credential is the answer of a CredentialStore. Handle is opaque to the
// orchestrator; for the cookie store it is the cookie file path.
type Credential struct {
	Valid  bool
	Handle string
	Reason string
}

// CredentialStore provides authentication material for authenticated strategies.
type CredentialStore interface {
	Credential() Credential
}

// netscapeHeaders are the first-line markers of a Netscape cookie jar.
var netscapeHeaders = []string{"# Netscape HTTP Cookie File", "# HTTP Cookie File"}

// FileCredentialStore validates a Netscape cookie file on every lookup.
type FileCredentialStore struct {
	Path   string
	MaxAge time.Duration
	now    func() time.Time
}

// NewFileCredentialStore creates a store for the cookie file at path.
// A zero maxAge disables the age check.
func NewFileCredentialStore(path string, maxAge time.Duration) *FileCredentialStore {
	return &FileCredentialStore{Path: path, MaxAge: maxAge, now: time.Now}
}

// Credential checks that the file exists, is non-empty, carries the Netscape
// header and is not older than MaxAge.
func (s *FileCredentialStore) Credential() Credential {
	if s.Path == "" {
		return Credential{Reason: "no cookie file configured"}
	}
	info, err := os.Stat(s.Path)
	if err != nil {
		return Credential{Reason: "cookie file not readable"}
	}
	if info.Size() == 0 {
		return Credential{Reason: "cookie file is empty"}
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if s.MaxAge > 0 && now().Sub(info.ModTime()) > s.MaxAge {
		return Credential{Reason: "cookie file is stale"}
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return Credential{Reason: "cookie file not readable"}
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return Credential{Reason: "cookie file is empty"}
	}
	first := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
	for _, h := range netscapeHeaders {
		if strings.HasPrefix(first, h) {
			return Credential{Valid: true, Handle: s.Path}
		}
	}
	return Credential{Reason: "cookie file is not in Netscape format"}
}

// StaticCredentials always returns the same credential.
type StaticCredentials Credential

// Credential implements CredentialStore.
func (c StaticCredentials) Credential() Credential {
	return Credential(c)
}
