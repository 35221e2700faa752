package store

import (
	"fmt"
	"os"
)

// CollectionEnv is the environment variable consulted by ResolveCollection.
const CollectionEnv = "FIELDSYNC_COLLECTION"

// ResolveCollection determines the collection to use based on priority chain.
// Priority: explicit > FIELDSYNC_COLLECTION env > DefaultCollection
func ResolveCollection(explicit string) (string, error) {
	if explicit != "" {
		if err := ValidateCollection(explicit); err != nil {
			return "", fmt.Errorf("invalid collection %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(CollectionEnv); env != "" {
		if err := ValidateCollection(env); err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", CollectionEnv, env, err)
		}
		return env, nil
	}

	return DefaultCollection, nil
}
