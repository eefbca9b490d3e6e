// This command is only used for local testing: it writes a cleartext Tink
// keyset suitable for CACHE_ENCRYPTION_KEYSET_FILE.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/encryption"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	KeysetFile string `env:"UTIL_KEYSET_FILE, default=.development/keys/cache-keyset.json"`
	Overwrite  bool   `env:"UTIL_OVERWRITE, default=false"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	if err := create(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error creating keyset: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", cfg.KeysetFile)
}

func create(cfg Config) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if cfg.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(cfg.KeysetFile, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := encryption.WriteNewKeyset(f); err != nil {
		return err
	}

	// confirm the written file loads before handing it out
	primitive, err := encryption.LoadKeysetFile(cfg.KeysetFile)
	if err != nil {
		return err
	}
	return encryption.Validate(primitive)
}
