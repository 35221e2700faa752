package store

import (
	"os"
	"path/filepath"
	"strings"
)

// DatabaseFile is the name of the SQLite file inside a collection directory.
const DatabaseFile = "fieldsync.db"

// HomeEnv overrides the fieldsync home directory (the parent of stores/).
const HomeEnv = "FIELDSYNC_HOME"

// DefaultRoot returns the root directory for all local databases.
// Defaults to $FIELDSYNC_HOME/stores, then ~/.fieldsync/stores, and falls back
// to ./.fieldsync/stores if home dir unavailable.
func DefaultRoot() string {
	if h := os.Getenv(HomeEnv); h != "" {
		return filepath.Join(h, "stores")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".fieldsync", "stores")
	}
	return filepath.Join(home, ".fieldsync", "stores")
}

// EncodeCollectionPath encodes a collection name for filesystem use.
// Replaces "/" with "__" for path-style collections.
func EncodeCollectionPath(collection string) string {
	return strings.ReplaceAll(collection, "/", "__")
}

// DecodeCollectionPath decodes an encoded directory name back to a collection name.
func DecodeCollectionPath(encoded string) string {
	return strings.ReplaceAll(encoded, "__", "/")
}

// DBPath returns the full path to a collection's database file.
// Example: DBPath("org/jobs") -> ~/.fieldsync/stores/org__jobs/fieldsync.db
func DBPath(collection string) string {
	return filepath.Join(DefaultRoot(), EncodeCollectionPath(collection), DatabaseFile)
}
