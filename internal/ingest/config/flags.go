package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/photoimport/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   status HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-v string   vault file path
//	-k string   vault passphrase
//	-r string   Redis address for the refresh mutex (empty disables)
//	-u string   S3 root user
//	-p string   S3 root password
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-b string   bucket to watch
//	-l string   DAM catalog id
//	-i string   identity provider client id
//	-t string   OTLP tracing endpoint (empty disables)
//
// Only the flags listed above are picked out of os.Args (flagx.FilterArgs),
// so -c / -config can coexist.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-v", "-k", "-r", "-u", "-p", "-g", "-e", "-b", "-l", "-i", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.StringVar(&config.StatusAddr, "a", config.StatusAddr, "address and port of the status endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.VaultPath, "v", config.VaultPath, "vault file path")
	fs.StringVar(&config.VaultPassphrase, "k", config.VaultPassphrase, "vault passphrase")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.WatchBucket, "b", config.WatchBucket, "bucket to watch")
	fs.StringVar(&config.CatalogID, "l", config.CatalogID, "DAM catalog id")
	fs.StringVar(&config.ClientID, "i", config.ClientID, "identity provider client id")
	fs.StringVar(&config.TracingEndpoint, "t", config.TracingEndpoint, "OTLP tracing endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
