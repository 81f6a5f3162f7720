// Package credential issues the per-share password and checks offered
// passwords against it. Only a bcrypt hash of the active password is kept
// around for verification.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultUsername is the fixed Basic auth username.
const DefaultUsername = "sharebeam"

// DefaultWords is how many wordlist entries make up a password.
const DefaultWords = 2

//go:embed wordlist.txt
var wordlistData string

var wordlist = loadWordlist(wordlistData)

func loadWordlist(data string) []string {
	var words []string
	for _, line := range strings.Split(data, "\n") {
		w := strings.TrimSpace(line)
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Issuer hands out one password per share run.
type Issuer struct {
	mu         sync.Mutex
	username   string
	words      int
	cost       int
	persistent bool

	hash []byte
	// last is only retained when persistent is set.
	last string
}

type Option func(*Issuer)

// WithWords sets the number of words per password. Values below two are
// ignored.
func WithWords(n int) Option {
	return func(i *Issuer) {
		if n >= 2 {
			i.words = n
		}
	}
}

// WithCost sets the bcrypt cost used to hash the issued password.
func WithCost(cost int) Option {
	return func(i *Issuer) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			i.cost = cost
		}
	}
}

// WithUsername overrides DefaultUsername.
func WithUsername(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.username = name
		}
	}
}

// Persistent makes Issue hand back the same password on every run.
func Persistent(on bool) Option {
	return func(i *Issuer) {
		i.persistent = on
	}
}

func NewIssuer(opts ...Option) *Issuer {
	i := &Issuer{
		username: DefaultUsername,
		words:    DefaultWords,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Username() string {
	return i.username
}

// Issue generates a fresh password, or returns the previous one when the
// issuer is persistent, and makes it the active credential.
func (i *Issuer) Issue() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	password := i.last
	if !i.persistent || password == "" {
		var err error
		password, err = generatePassword(i.words)
		if err != nil {
			return "", err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), i.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}

	i.hash = hash
	if i.persistent {
		i.last = password
	}
	return password, nil
}

// Verify reports whether username and password match the active
// credential. It always fails when no credential is active.
func (i *Issuer) Verify(username, password string) bool {
	i.mu.Lock()
	hash := i.hash
	i.mu.Unlock()

	if hash == nil {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(i.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
	return userOK && passOK
}

// Discard forgets the active credential. A persistent issuer still
// remembers the password for the next Issue.
func (i *Issuer) Discard() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hash = nil
}

func generatePassword(n int) (string, error) {
	max := big.NewInt(int64(len(wordlist)))
	parts := make([]string, n)
	for k := range parts {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		parts[k] = wordlist[idx.Int64()]
	}
	return strings.Join(parts, "-"), nil
}
