package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TokenLayout formats session timestamps, e.g. 2024_03_15_10_30_00
const TokenLayout = "2006_01_02_15_04_05"

const maxSessionSuffix = 1000

// ErrSessionSealed is returned for writes attempted after archiving started
var ErrSessionSealed = errors.New("backup session is sealed")

var tokenPattern = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}_\d{2}_\d{2}_\d{2}(_\d+)?$`)

// Session is one backup run's output directory
type Session struct {
	RunID     string
	Database  string
	Token     string
	Dir       string
	StartedAt time.Time

	mu     sync.RWMutex
	sealed bool
}

// NewSession creates root/<token> exclusively. When a directory for the same
// second already exists the token gets a numeric suffix (_2, _3, ...).
func NewSession(root, database, runID string, startedAt time.Time) (*Session, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup root %s: %w", root, err)
	}

	base := startedAt.Format(TokenLayout)
	for n := 1; n <= maxSessionSuffix; n++ {
		token := base
		if n > 1 {
			token = base + "_" + strconv.Itoa(n)
		}
		dir := filepath.Join(root, token)

		err := os.Mkdir(dir, 0755)
		if err == nil {
			return &Session{
				RunID:     runID,
				Database:  database,
				Token:     token,
				Dir:       dir,
				StartedAt: startedAt,
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
		}
	}
	return nil, fmt.Errorf("failed to create session directory under %s: too many sessions for %s", root, base)
}

// newDetachedSession describes a run that writes no files
func newDetachedSession(database, runID string, startedAt time.Time) *Session {
	return &Session{
		RunID:     runID,
		Database:  database,
		Token:     startedAt.Format(TokenLayout),
		StartedAt: startedAt,
	}
}

// Seal marks the session read-only
func (s *Session) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether Seal has been called
func (s *Session) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// ArchiveBase is the archive path without extension: root/<db>_<token>
func (s *Session) ArchiveBase() string {
	return filepath.Join(filepath.Dir(s.Dir), s.Database+"_"+s.Token)
}

// FileName returns the per-table file name <db>_<table>.txt with path
// separators replaced.
func FileName(database, table string) string {
	name := database + "_" + table + ".txt"
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

// IsToken reports whether name looks like a session token
func IsToken(name string) bool {
	return tokenPattern.MatchString(name)
}

// compareTokens orders tokens chronologically, including numeric suffixes
func compareTokens(a, b string) int {
	baseA, nA := splitToken(a)
	baseB, nB := splitToken(b)
	if c := strings.Compare(baseA, baseB); c != 0 {
		return c
	}
	switch {
	case nA < nB:
		return -1
	case nA > nB:
		return 1
	}
	return 0
}

func splitToken(token string) (string, int) {
	if len(token) <= len(TokenLayout) {
		return token, 1
	}
	n, err := strconv.Atoi(token[len(TokenLayout)+1:])
	if err != nil {
		return token, 1
	}
	return token[:len(TokenLayout)], n
}
