package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sp := configuredSQL()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "postgres", "sqlite":
			sp.driver = sqlDriver(*provider)
			if err := sp.Validate(); err != nil {
				panic(fmt.Sprintf("sql validation failed: %v", err))
			}
			p.Database = sp
			if err := sp.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sql init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
