/*
main.go - Application entry point

PURPOSE:
  Starts the loyalty command. All setup lives in the cli package so the
  server and the operator commands share config, logging and stores.

EXAMPLES:
  # Run with a sqlite file
  ./server serve --db-dsn=./data/loyalty.db

  # Run in memory with demo scenarios enabled
  ./server serve --db-driver=memory --scenarios

  # Run against PostgreSQL on a different port
  LOYALTY_DB_DRIVER=postgres LOYALTY_DB_DSN=postgres://... ./server serve -p 3000

  # Load demo data
  ./server seed worked-example

SEE ALSO:
  - cli/serve.go: Server startup and graceful shutdown
  - config/config.go: Configuration file and environment
  - api/server.go: Router configuration
*/
package main

import "github.com/warp/loyalty-engine/cli"

func main() {
	cli.Execute()
}
