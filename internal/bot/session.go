package bot

import (
	"crypto/rand"
	"math/big"
	"time"

	"contactbot/internal/domain"
)

// authorizationScheme prefixes the derived bearer string sent on every
// authorized call: "res <userID>:<token>".
const authorizationScheme = "res "

// session is the mutable in-memory session state, owned exclusively by the
// Bot facade and mutated only under its state mutex.
type session struct {
	machineID string
	sessionID string

	userID        string
	token         string
	authorization string
	tokenExpiry   time.Time
	loggedIn      bool

	whitelist map[string]struct{}
}

// setCredential installs a fresh session credential. The four credential
// fields and the loggedIn flag change together so observers never see a
// partially-set session.
func (s *session) setCredential(us *domain.UserSession) {
	s.userID = us.UserID
	s.token = us.Token
	s.authorization = authorizationScheme + us.UserID + ":" + us.Token
	s.tokenExpiry = us.Expire
	s.loggedIn = true
}

// clearCredential drops the session credential atomically with the
// loggedIn flag.
func (s *session) clearCredential() {
	s.userID = ""
	s.token = ""
	s.authorization = ""
	s.tokenExpiry = time.Time{}
	s.loggedIn = false
}

const machineIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_"
const machineIDLength = 128

// generateMachineID produces the stable per-process machine identifier
// sent on login and hub connections.
func generateMachineID() string {
	max := big.NewInt(int64(len(machineIDCharset)))
	buf := make([]byte, machineIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken.
			panic(err)
		}
		buf[i] = machineIDCharset[n.Int64()]
	}
	return string(buf)
}
