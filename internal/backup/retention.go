package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/logging"
)

// Retention removes old sessions of a database
type Retention struct {
	logger *logging.Logger
}

// NewRetention creates a retention pruner
func NewRetention(logger *logging.Logger) *Retention {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Retention{logger: logger}
}

// Prune keeps the newest keep sessions of database under root and deletes the
// rest: the session directory, archive, encrypted archive and manifest.
// A session belongs to database when root holds a <db>_<token> archive or
// manifest. Tokens in protect are never removed. keep <= 0 disables pruning.
// It returns the pruned tokens, oldest first.
func (r *Retention) Prune(root, database string, keep int, protect ...string) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	tokens, err := sessionTokens(root, database)
	if err != nil {
		return nil, err
	}
	if len(tokens) <= keep {
		return nil, nil
	}

	protected := make(map[string]bool, len(protect))
	for _, t := range protect {
		protected[t] = true
	}

	// newest first
	sort.Slice(tokens, func(i, j int) bool { return compareTokens(tokens[i], tokens[j]) > 0 })

	var pruned []string
	var errs []string
	for _, token := range tokens[keep:] {
		if protected[token] {
			continue
		}
		if err := r.removeSession(root, database, token); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		pruned = append(pruned, token)
		r.logger.WithFields(map[string]interface{}{
			"operation": "retention",
			"database":  database,
			"token":     token,
		}).Info("Pruned old backup session")
	}

	sort.Slice(pruned, func(i, j int) bool { return compareTokens(pruned[i], pruned[j]) < 0 })
	if len(errs) > 0 {
		return pruned, fmt.Errorf("retention: %s", strings.Join(errs, "; "))
	}
	return pruned, nil
}

func sessionTokens(root, database string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup root %s: %w", root, err)
	}

	prefix := database + "_"
	seen := map[string]bool{}
	var tokens []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		token := stripArtifactExtension(strings.TrimPrefix(name, prefix))
		if token == "" || !IsToken(token) || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// stripArtifactExtension returns the token part of an archive or manifest
// name, or "" when the suffix is not recognised.
func stripArtifactExtension(name string) string {
	if strings.HasSuffix(name, ManifestExtension) {
		return strings.TrimSuffix(name, ManifestExtension)
	}
	name = strings.TrimSuffix(name, archive.EncryptedExtension)
	for _, c := range []archive.CompressionType{archive.CompressionGzip, archive.CompressionZstd, archive.CompressionLZ4, archive.CompressionNone} {
		if strings.HasSuffix(name, c.Extension()) {
			return strings.TrimSuffix(name, c.Extension())
		}
	}
	return ""
}

func (r *Retention) removeSession(root, database, token string) error {
	if err := os.RemoveAll(filepath.Join(root, token)); err != nil {
		return err
	}

	base := database + "_" + token
	matches, err := filepath.Glob(filepath.Join(root, base+".*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if stripArtifactExtension(strings.TrimPrefix(filepath.Base(m), database+"_")) != token {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
